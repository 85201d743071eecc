// Package identity establishes the per-session user identity used to sign
// persisted messages.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Identity is created once at bootstrap and read-only afterwards. A zero
// Identity means bootstrap failed.
type Identity struct {
	ID      string `json:"id"`
	IDToken string `json:"-"`
}

// Valid reports whether bootstrap produced an identity.
func (i Identity) Valid() bool {
	return i.ID != ""
}

// Credential is what an Authenticator returns. UID may be empty when the
// provider does not expose one.
type Credential struct {
	UID     string
	IDToken string
}

// Authenticator signs a session in with the backing identity service.
type Authenticator interface {
	SignInWithCustomToken(ctx context.Context, token string) (Credential, error)
	SignInAnonymously(ctx context.Context) (Credential, error)
}

// Bootstrap signs in with token when one is supplied, anonymously otherwise.
// Failures are logged and leave the identity unset; there is no retry.
func Bootstrap(ctx context.Context, auth Authenticator, token string) (Identity, error) {
	if auth == nil {
		return Identity{}, errors.New("identity: no authenticator configured")
	}

	var (
		cred Credential
		err  error
	)
	if token != "" {
		cred, err = auth.SignInWithCustomToken(ctx, token)
	} else {
		cred, err = auth.SignInAnonymously(ctx)
	}
	if err != nil {
		slog.Error("Error during sign-in", "token", token != "", "err", err)
		return Identity{}, fmt.Errorf("identity: sign-in: %w", err)
	}

	id := cred.UID
	if id == "" {
		id = uuid.NewString()
	}
	return Identity{ID: id, IDToken: cred.IDToken}, nil
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from ctx.
func FromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(identityKey).(Identity); ok {
		return v
	}
	return Identity{}
}

// LocalAuthenticator issues anonymous ids without a remote service. Custom
// tokens are accepted but carry no uid, so Bootstrap falls back to a
// random identifier for them.
type LocalAuthenticator struct{}

// SignInWithCustomToken implements Authenticator.
func (LocalAuthenticator) SignInWithCustomToken(_ context.Context, token string) (Credential, error) {
	if token == "" {
		return Credential{}, errors.New("empty custom token")
	}
	return Credential{}, nil
}

// SignInAnonymously implements Authenticator.
func (LocalAuthenticator) SignInAnonymously(context.Context) (Credential, error) {
	id, err := generateAnonID()
	if err != nil {
		return Credential{}, err
	}
	return Credential{UID: id}, nil
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}
