package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/storage"
)

// RefreshThreshold is how long before expiry a cached token is renewed
const RefreshThreshold = 5 * time.Minute

// acquireTimeout bounds one shared cache lookup and refresh
const acquireTimeout = 30 * time.Second

// Refresher builds a refreshing token source. *oauth2.Config satisfies it.
type Refresher interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// AcquisitionSource serves delegated API tokens from the token cache,
// refreshing them through the IdP when they are about to expire.
type AcquisitionSource struct {
	cache     storage.TokenCache
	refresher Refresher
	group     singleflight.Group
	now       func() time.Time
}

// NewAcquisitionSource creates a source over cache. refresher may be nil, in
// which case stale tokens are simply not served.
func NewAcquisitionSource(cache storage.TokenCache, refresher Refresher) *AcquisitionSource {
	return &AcquisitionSource{
		cache:     cache,
		refresher: refresher,
		now:       time.Now,
	}
}

// Name implements TokenSource
func (s *AcquisitionSource) Name() string { return "acquired" }

// Token implements TokenSource. Concurrent calls for the same principal
// share one cache lookup and at most one refresh.
func (s *AcquisitionSource) Token(ctx context.Context, p Principal) (string, bool) {
	if p.Subject == "" {
		return "", false
	}

	// The shared call outlives any single caller; a cancelled request must
	// not fail the others waiting on the same subject.
	ch := s.group.DoChan(p.Subject, func() (any, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acquireTimeout)
		defer cancel()
		return s.acquire(actx, p.Subject)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", false
	}
	v, err := res.Val, res.Err
	if err != nil {
		if !errors.Is(err, storage.ErrTokenNotFound) {
			log.LogWarnWithFields("delegation", "Delegated token unavailable", map[string]any{
				"subject": p.Subject,
				"error":   err.Error(),
			})
		}
		return "", false
	}
	return v.(string), true
}

func (s *AcquisitionSource) acquire(ctx context.Context, subject string) (string, error) {
	cached, err := s.cache.GetDelegatedToken(ctx, subject)
	if err != nil {
		return "", err
	}

	now := s.now()
	if cached.ExpiresAt.IsZero() || cached.ExpiresAt.Sub(now) > RefreshThreshold {
		return cached.AccessToken, nil
	}

	refreshed, err := s.refresh(ctx, subject, cached)
	if err != nil {
		if now.Before(cached.ExpiresAt) {
			// Still valid for a few minutes; serve it and retry the refresh
			// on the next request.
			log.LogWarnWithFields("delegation", "Token refresh failed, using current token", map[string]any{
				"subject": subject,
				"error":   err.Error(),
			})
			return cached.AccessToken, nil
		}
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (s *AcquisitionSource) refresh(ctx context.Context, subject string, cached *storage.DelegatedToken) (*storage.DelegatedToken, error) {
	if cached.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if s.refresher == nil {
		return nil, fmt.Errorf("token refresh not configured")
	}

	old := &oauth2.Token{
		AccessToken:  cached.AccessToken,
		RefreshToken: cached.RefreshToken,
		TokenType:    cached.TokenType,
		Expiry:       cached.ExpiresAt,
	}
	// ReuseTokenSourceWithExpiry treats old as expired RefreshThreshold early,
	// so the underlying source actually hits the token endpoint.
	base := s.refresher.TokenSource(ctx, old)
	newToken, err := oauth2.ReuseTokenSourceWithExpiry(old, base, RefreshThreshold).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	updated := *cached
	updated.AccessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		updated.RefreshToken = newToken.RefreshToken
	}
	if newToken.TokenType != "" {
		updated.TokenType = newToken.TokenType
	}
	updated.ExpiresAt = newToken.Expiry
	updated.UpdatedAt = s.now()

	if err := s.cache.SetDelegatedToken(ctx, subject, &updated); err != nil {
		// The caller can still use the new token; the next request refreshes again.
		log.LogErrorWithFields("delegation", "Failed to store refreshed token", map[string]any{
			"subject": subject,
			"error":   err.Error(),
		})
	}

	log.LogInfoWithFields("delegation", "Delegated token refreshed", map[string]any{
		"subject": subject,
		"expiry":  newToken.Expiry,
	})
	return &updated, nil
}

// Seed caches the tokens from a sign-in so later requests can use and
// refresh them.
func (s *AcquisitionSource) Seed(ctx context.Context, subject string, tok *oauth2.Token, scopes []string) error {
	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	return s.cache.SetDelegatedToken(ctx, subject, &storage.DelegatedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		Scopes:       scopes,
		UpdatedAt:    s.now(),
	})
}

// Forget drops a principal's cached token, typically at logout
func (s *AcquisitionSource) Forget(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	return s.cache.DeleteDelegatedToken(ctx, subject)
}

// ScopeList splits a space-separated scope string
func ScopeList(scope string) []string {
	return strings.Fields(scope)
}
