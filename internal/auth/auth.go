// Package auth validates API keys for the gateway's HTTP query surface.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyPrefix is the required prefix for bastion API keys.
const KeyPrefix = "bsk_"

// Principal identifies an authenticated API client.
type Principal struct {
	ID   string
	Name string
}

// Authenticator validates a bearer token and returns the client principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// StaticAuthenticator validates against a single key from the environment.
// Used when no Postgres client store is configured.
type StaticAuthenticator struct {
	key string
}

// NewStaticAuthenticator creates an authenticator for the given key.
func NewStaticAuthenticator(key string) *StaticAuthenticator {
	return &StaticAuthenticator{key: key}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.key)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	return &Principal{ID: "static", Name: "static"}, nil
}
