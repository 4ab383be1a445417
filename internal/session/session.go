// Package session holds the authenticated user state the BFF keeps on behalf
// of a browser.
package session

import (
	"context"
	"time"
)

// Origin records how a session was created. Logout behaves differently for
// each: browser sessions also end the IdP session.
type Origin string

const (
	OriginBrowser Origin = "browser"
	OriginNative  Origin = "native"
)

// Well-known session claim names
const (
	ClaimNameIdentifier    = "nameidentifier"
	ClaimName              = "name"
	ClaimEmail             = "email"
	ClaimPreferredUsername = "preferred_username"
	ClaimRoles             = "roles"
	ClaimRole              = "role"
	ClaimGroups            = "groups"
)

// TokenSet is what the IdP issued for this session
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Session is a signed-in user. It is stored server-side; the browser only
// holds an encrypted reference to ID.
type Session struct {
	ID                string              `json:"id"`
	Subject           string              `json:"subject"`
	Name              string              `json:"name,omitempty"`
	Email             string              `json:"email,omitempty"`
	PreferredUsername string              `json:"preferred_username,omitempty"`
	Claims            map[string][]string `json:"claims"`
	Tokens            TokenSet            `json:"tokens"`
	Origin            Origin              `json:"origin"`
	CreatedAt         time.Time           `json:"created_at"`
	ExpiresAt         time.Time           `json:"expires_at"`
}

// Claim returns the first value of a claim, or ""
func (s *Session) Claim(name string) string {
	if vs := s.Claims[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// HasClaimValue reports whether claim name carries value
func (s *Session) HasClaimValue(name, value string) bool {
	for _, v := range s.Claims[name] {
		if v == value {
			return true
		}
	}
	return false
}

// Roles is the union of the roles and role claims
func (s *Session) Roles() []string {
	roles := []string{}
	seen := make(map[string]bool)
	for _, name := range []string{ClaimRoles, ClaimRole} {
		for _, v := range s.Claims[name] {
			if !seen[v] {
				seen[v] = true
				roles = append(roles, v)
			}
		}
	}
	return roles
}

// DisplayEmail prefers preferred_username, which Entra populates with the
// sign-in address, and falls back to the email claim.
func (s *Session) DisplayEmail() string {
	if s.PreferredUsername != "" {
		return s.PreferredUsername
	}
	return s.Email
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Claims = make(map[string][]string, len(s.Claims))
	for k, vs := range s.Claims {
		c.Claims[k] = append([]string(nil), vs...)
	}
	return &c
}

// AuthorizationState is the payload of the signed OAuth state parameter used
// by browser sign-in.
type AuthorizationState struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"return_url"`
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying s
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session on ctx, if any
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
