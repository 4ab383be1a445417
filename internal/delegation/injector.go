// Package delegation attaches the signed-in user's credentials to requests
// the BFF forwards to the downstream API.
package delegation

import (
	"context"
	"net/http"

	"github.com/dgellow/bff-front/internal/metrics"
	"github.com/dgellow/bff-front/internal/session"
)

// SourceNone is reported when no source produced a token
const SourceNone = "none"

// Principal identifies whose credentials to use
type Principal struct {
	Subject string
	Session *session.Session
}

// PrincipalFromSession builds a principal for an authenticated session. A
// nil session yields the anonymous principal.
func PrincipalFromSession(s *session.Session) Principal {
	if s == nil {
		return Principal{}
	}
	return Principal{Subject: s.Subject, Session: s}
}

// TokenSource yields a bearer token for a principal. ok=false means "not
// available here"; it is not an error.
type TokenSource interface {
	Name() string
	Token(ctx context.Context, p Principal) (token string, ok bool)
}

// Injector tries its sources in order and sets the first token found
type Injector struct {
	sources []TokenSource
	metrics *metrics.Metrics
}

// NewInjector creates an injector. m may be nil.
func NewInjector(m *metrics.Metrics, sources ...TokenSource) *Injector {
	return &Injector{sources: sources, metrics: m}
}

// Inject replaces any inbound Authorization header with the principal's
// bearer token and returns the name of the source used. When no source has
// a token the header is left absent and the downstream API decides.
func (i *Injector) Inject(ctx context.Context, req *http.Request, p Principal) string {
	req.Header.Del("Authorization")

	for _, src := range i.sources {
		token, ok := src.Token(ctx, p)
		if !ok || token == "" {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+token)
		i.metrics.CredentialInjection(src.Name())
		return src.Name()
	}

	i.metrics.CredentialInjection(SourceNone)
	return SourceNone
}

// SessionSource uses the access token issued at sign-in
type SessionSource struct{}

// Name implements TokenSource
func (SessionSource) Name() string { return "session" }

// Token implements TokenSource
func (SessionSource) Token(_ context.Context, p Principal) (string, bool) {
	if p.Session == nil || p.Session.Tokens.AccessToken == "" {
		return "", false
	}
	return p.Session.Tokens.AccessToken, true
}
