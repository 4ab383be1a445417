package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dgellow/bff-front/internal/session"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps sessions and delegated tokens in process. Entries
// expire on their own; nothing survives a restart.
type MemoryStorage struct {
	sessions *gocache.Cache
	tokens   *gocache.Cache
	now      func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: gocache.New(gocache.NoExpiration, time.Minute),
		tokens:   gocache.New(DefaultTokenTTL, time.Minute),
		now:      time.Now,
	}
}

func (s *MemoryStorage) ttl(sess *session.Session) time.Duration {
	if sess.ExpiresAt.IsZero() {
		return gocache.NoExpiration
	}
	// go-cache treats non-positive durations as "never expire"
	if d := sess.ExpiresAt.Sub(s.now()); d > 0 {
		return d
	}
	return time.Nanosecond
}

// CreateSession stores a copy of sess
func (s *MemoryStorage) CreateSession(_ context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	s.sessions.Set(sess.ID, sess.Clone(), s.ttl(sess))
	return nil
}

// GetSession returns a copy of the stored session
func (s *MemoryStorage) GetSession(_ context.Context, id string) (*session.Session, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := v.(*session.Session)
	if sess.Expired(s.now()) {
		s.sessions.Delete(id)
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// UpdateSession replaces an existing session, resetting its expiry
func (s *MemoryStorage) UpdateSession(_ context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	if _, ok := s.sessions.Get(sess.ID); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Set(sess.ID, sess.Clone(), s.ttl(sess))
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.sessions.Delete(id)
	return nil
}

// GetDelegatedToken returns the cached token for principal
func (s *MemoryStorage) GetDelegatedToken(_ context.Context, principal string) (*DelegatedToken, error) {
	v, ok := s.tokens.Get(principal)
	if !ok {
		return nil, ErrTokenNotFound
	}
	tok := *v.(*DelegatedToken)
	tok.Scopes = append([]string(nil), tok.Scopes...)
	return &tok, nil
}

// SetDelegatedToken caches token for principal
func (s *MemoryStorage) SetDelegatedToken(_ context.Context, principal string, token *DelegatedToken) error {
	tok := *token
	tok.Scopes = append([]string(nil), token.Scopes...)
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = s.now()
	}
	s.tokens.Set(principal, &tok, gocache.DefaultExpiration)
	return nil
}

// DeleteDelegatedToken forgets principal's token
func (s *MemoryStorage) DeleteDelegatedToken(_ context.Context, principal string) error {
	s.tokens.Delete(principal)
	return nil
}

// Close releases nothing; memory storage has no connections
func (s *MemoryStorage) Close() error {
	return nil
}
