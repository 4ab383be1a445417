package session

import (
	"fmt"
	"time"

	"github.com/dgellow/bff-front/internal/crypto"
)

// Grant is a token response from the IdP, whichever flow produced it
type Grant struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int
}

// Builder turns grants into sessions
type Builder struct {
	now   func() time.Time
	newID func() (string, error)
}

// BuilderOption customises a Builder
type BuilderOption func(*Builder)

// WithClock overrides the time source
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a Builder using the wall clock
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		now:   time.Now,
		newID: crypto.GenerateSecureToken,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build decodes the grant's ID token and returns a new session expiring
// ExpiresIn seconds from now.
func (b *Builder) Build(origin Origin, g Grant) (*Session, error) {
	claims, err := DecodeClaims(g.IDToken)
	if err != nil {
		return nil, err
	}

	id, err := b.newID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := b.now().UTC()
	expiresAt := now.Add(time.Duration(g.ExpiresIn) * time.Second)

	s := &Session{
		ID:        id,
		Claims:    claims,
		Origin:    origin,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Tokens: TokenSet{
			AccessToken:  g.AccessToken,
			IDToken:      g.IDToken,
			RefreshToken: g.RefreshToken,
			ExpiresAt:    expiresAt,
		},
	}
	s.Subject = s.Claim(ClaimNameIdentifier)
	s.Name = s.Claim(ClaimName)
	s.Email = s.Claim(ClaimEmail)
	s.PreferredUsername = s.Claim(ClaimPreferredUsername)
	return s, nil
}
