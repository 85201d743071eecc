package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

type stubAuthenticator struct {
	tokenCalls int
	anonCalls  int
	cred       Credential
	err        error
}

func (s *stubAuthenticator) SignInWithCustomToken(context.Context, string) (Credential, error) {
	s.tokenCalls++
	return s.cred, s.err
}

func (s *stubAuthenticator) SignInAnonymously(context.Context) (Credential, error) {
	s.anonCalls++
	return s.cred, s.err
}

func TestBootstrapChoosesPath(t *testing.T) {
	auth := &stubAuthenticator{cred: Credential{UID: "uid-1"}}

	id, err := Bootstrap(context.Background(), auth, "custom")
	if err != nil {
		t.Fatalf("Bootstrap err: %v", err)
	}
	if id.ID != "uid-1" || auth.tokenCalls != 1 || auth.anonCalls != 0 {
		t.Fatalf("unexpected bootstrap state id=%+v token=%d anon=%d", id, auth.tokenCalls, auth.anonCalls)
	}

	if _, err := Bootstrap(context.Background(), auth, ""); err != nil {
		t.Fatalf("Bootstrap err: %v", err)
	}
	if auth.anonCalls != 1 {
		t.Fatalf("expected anonymous sign-in, got %d calls", auth.anonCalls)
	}
}

func TestBootstrapFallsBackToRandomID(t *testing.T) {
	id, err := Bootstrap(context.Background(), &stubAuthenticator{}, "")
	if err != nil {
		t.Fatalf("Bootstrap err: %v", err)
	}
	if !id.Valid() || len(id.ID) != 36 {
		t.Fatalf("expected uuid fallback, got %q", id.ID)
	}
}

func TestBootstrapFailureLeavesIdentityUnset(t *testing.T) {
	auth := &stubAuthenticator{err: errors.New("denied")}

	id, err := Bootstrap(context.Background(), auth, "token")
	if err == nil {
		t.Fatal("expected error")
	}
	if id.Valid() {
		t.Fatalf("expected unset identity, got %+v", id)
	}
	if auth.tokenCalls != 1 || auth.anonCalls != 0 {
		t.Fatal("sign-in must not be retried or fall through to anonymous")
	}
}

func TestLocalAuthenticator(t *testing.T) {
	var local LocalAuthenticator

	cred, err := local.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously err: %v", err)
	}
	if !anonIDPattern.MatchString(cred.UID) {
		t.Fatalf("unexpected anonymous id %q", cred.UID)
	}

	cred, err = local.SignInWithCustomToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("SignInWithCustomToken err: %v", err)
	}
	if cred.UID != "" {
		t.Fatalf("local tokens should expose no uid, got %q", cred.UID)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{ID: "u", IDToken: "t"})
	if got := FromContext(ctx); got.ID != "u" || got.IDToken != "t" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if FromContext(context.Background()).Valid() {
		t.Fatal("empty context should carry no identity")
	}
}

func fakeIDToken(claims string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(claims)) + ".sig"
}

func TestFirebaseAuthenticator(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("key") != "api-key" {
			http.Error(w, `{"error":{"message":"API_KEY_INVALID"}}`, http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.HasSuffix(r.URL.Path, "accounts:signUp"):
			_, _ = io.WriteString(w, `{"localId":"anon-uid","idToken":"id-token"}`)
		case strings.HasSuffix(r.URL.Path, "accounts:signInWithCustomToken"):
			if gjson.GetBytes(body, "token").String() != "custom" {
				http.Error(w, `{"error":{"message":"INVALID_CUSTOM_TOKEN"}}`, http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"idToken":"`+fakeIDToken(`{"user_id":"token-uid"}`)+`"}`)
		}
	}))
	defer srv.Close()

	auth := NewFirebaseAuthenticator("api-key", srv.URL, srv.Client())

	cred, err := auth.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously err: %v", err)
	}
	if cred.UID != "anon-uid" || cred.IDToken != "id-token" {
		t.Fatalf("unexpected credential %+v", cred)
	}

	cred, err = auth.SignInWithCustomToken(context.Background(), "custom")
	if err != nil {
		t.Fatalf("SignInWithCustomToken err: %v", err)
	}
	if cred.UID != "token-uid" {
		t.Fatalf("expected uid from token claims, got %q", cred.UID)
	}

	if _, err := auth.SignInWithCustomToken(context.Background(), "bad"); err == nil || !strings.Contains(err.Error(), "INVALID_CUSTOM_TOKEN") {
		t.Fatalf("expected INVALID_CUSTOM_TOKEN error, got %v", err)
	}

	if len(paths) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(paths))
	}
}

func TestUIDFromIDTokenFallsBackToSub(t *testing.T) {
	if got := uidFromIDToken(fakeIDToken(`{"sub":"abc"}`)); got != "abc" {
		t.Fatalf("expected sub claim, got %q", got)
	}
	if got := uidFromIDToken("garbage"); got != "" {
		t.Fatalf("expected empty uid, got %q", got)
	}
}
