package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/bff-front/internal/crypto"
	"github.com/dgellow/bff-front/internal/session"
)

// ErrSessionNotFound is returned when a session doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// ErrTokenNotFound is returned when no delegated token is cached for a principal
var ErrTokenNotFound = errors.New("delegated token not found")

// DefaultTokenTTL bounds how long a delegated token entry is kept when it is
// not explicitly deleted at logout.
const DefaultTokenTTL = 24 * time.Hour

// DelegatedToken is a downstream API token acquired on a user's behalf,
// together with the refresh token used to renew it.
type DelegatedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStore persists sessions by id. GetSession never returns an expired
// session.
type SessionStore interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	UpdateSession(ctx context.Context, s *session.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// TokenCache holds delegated tokens keyed by principal (the user's subject)
type TokenCache interface {
	GetDelegatedToken(ctx context.Context, principal string) (*DelegatedToken, error)
	SetDelegatedToken(ctx context.Context, principal string, token *DelegatedToken) error
	DeleteDelegatedToken(ctx context.Context, principal string) error
}

// Storage combines everything the BFF persists
type Storage interface {
	SessionStore
	TokenCache
	Close() error
}

// Cleaner is implemented by backends without native expiry
type Cleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

func validateSession(s *session.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

// sealJSON marshals v and encrypts it for storage at rest
func sealJSON(enc crypto.Encryptor, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling: %w", err)
	}
	sealed, err := enc.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return sealed, nil
}

// openJSON reverses sealJSON
func openJSON(enc crypto.Encryptor, sealed string, v any) error {
	raw, err := enc.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}
	return nil
}
