package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// keyPrefixLength is the number of leading key characters stored in plaintext
// for lookup. The full key is only ever stored as a bcrypt hash.
const keyPrefixLength = 8

// PostgresAuthenticator validates API keys against the api_clients table.
// Keys are located by their plaintext prefix, then verified with bcrypt.
type PostgresAuthenticator struct {
	db *sql.DB
}

// NewPostgresAuthenticator creates an authenticator backed by the given pool.
func NewPostgresAuthenticator(db *sql.DB) *PostgresAuthenticator {
	return &PostgresAuthenticator{db: db}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < keyPrefixLength {
		return nil, ErrInvalidAPIKey
	}

	var (
		id      string
		name    string
		keyHash string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash
		FROM api_clients
		WHERE api_key_prefix = $1 AND deleted_at IS NULL
	`, token[:keyPrefixLength]).Scan(&id, &name, &keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("api key lookup: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(token)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	return &Principal{ID: id, Name: name}, nil
}
