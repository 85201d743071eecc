package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// FirebaseAuthenticator signs in through the Identity Toolkit REST API.
type FirebaseAuthenticator struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFirebaseAuthenticator returns an authenticator for apiKey. An empty
// baseURL selects the public endpoint.
func NewFirebaseAuthenticator(apiKey, baseURL string, client *http.Client) *FirebaseAuthenticator {
	if baseURL == "" {
		baseURL = "https://identitytoolkit.googleapis.com/v1"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &FirebaseAuthenticator{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SignInWithCustomToken implements Authenticator.
func (a *FirebaseAuthenticator) SignInWithCustomToken(ctx context.Context, token string) (Credential, error) {
	body, err := a.post(ctx, "accounts:signInWithCustomToken", map[string]any{
		"token":             token,
		"returnSecureToken": true,
	})
	if err != nil {
		return Credential{}, err
	}
	return credentialFrom(body), nil
}

// SignInAnonymously implements Authenticator.
func (a *FirebaseAuthenticator) SignInAnonymously(ctx context.Context) (Credential, error) {
	body, err := a.post(ctx, "accounts:signUp", map[string]any{
		"returnSecureToken": true,
	})
	if err != nil {
		return Credential{}, err
	}
	return credentialFrom(body), nil
}

func (a *FirebaseAuthenticator) post(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", a.baseURL, method, url.QueryEscape(a.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New(method + ": malformed response")
	}
	return body, nil
}

func credentialFrom(body []byte) Credential {
	cred := Credential{
		UID:     gjson.GetBytes(body, "localId").String(),
		IDToken: gjson.GetBytes(body, "idToken").String(),
	}
	if cred.UID == "" {
		cred.UID = uidFromIDToken(cred.IDToken)
	}
	return cred
}

// uidFromIDToken reads the uid claim from an unverified JWT payload. The
// token comes straight from the identity service so the signature is not
// checked here.
func uidFromIDToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	if uid := gjson.GetBytes(payload, "user_id").String(); uid != "" {
		return uid
	}
	return gjson.GetBytes(payload, "sub").String()
}
