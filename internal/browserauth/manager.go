// Package browserauth ties server-side sessions to the browser through an
// encrypted session cookie.
package browserauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/bff-front/internal/cookie"
	"github.com/dgellow/bff-front/internal/crypto"
	jsonwriter "github.com/dgellow/bff-front/internal/json"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/metrics"
	"github.com/dgellow/bff-front/internal/session"
	"github.com/dgellow/bff-front/internal/storage"
)

// DefaultTTL is the sliding session lifetime
const DefaultTTL = 8 * time.Hour

var (
	// ErrNoSession means the request carries no session cookie
	ErrNoSession = errors.New("no session cookie")
	// ErrInvalidCookie means the cookie could not be decrypted
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// Options configures a Manager
type Options struct {
	CookieName string
	TTL        time.Duration
	Sliding    bool
}

// Manager installs, loads, renews and destroys browser sessions
type Manager struct {
	store     storage.SessionStore
	encryptor crypto.Encryptor
	csrf      crypto.CSRFProtection
	opts      Options
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewManager creates a Manager. The encryptor seals the session id into
// the cookie; csrf issues the XSRF-TOKEN cookie.
func NewManager(store storage.SessionStore, encryptor crypto.Encryptor, csrf crypto.CSRFProtection, opts Options, m *metrics.Metrics) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = cookie.DefaultSessionCookie
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		store:     store,
		encryptor: encryptor,
		csrf:      csrf,
		opts:      opts,
		metrics:   m,
		now:       time.Now,
	}
}

// CookieName returns the session cookie's name
func (m *Manager) CookieName() string {
	return m.opts.CookieName
}

// Install persists s and sets the session and XSRF cookies
func (m *Manager) Install(ctx context.Context, w http.ResponseWriter, s *session.Session) error {
	if err := m.store.CreateSession(ctx, s); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	if err := m.setCookie(w, s); err != nil {
		_ = m.store.DeleteSession(ctx, s.ID)
		return err
	}
	if err := m.issueXSRF(w); err != nil {
		log.LogWarnWithFields("browserauth", "Failed to issue XSRF token", map[string]any{"error": err.Error()})
	}

	m.metrics.SessionCreated(string(s.Origin))
	log.LogInfoWithFields("browserauth", "Session installed", map[string]any{
		"subject": s.Subject,
		"origin":  string(s.Origin),
		"expires": s.ExpiresAt,
	})
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, s *session.Session) error {
	value, err := m.encryptor.Encrypt(s.ID)
	if err != nil {
		return fmt.Errorf("sealing session cookie: %w", err)
	}
	cookie.SetSession(w, m.opts.CookieName, value, s.ExpiresAt.Sub(m.now()))
	return nil
}

func (m *Manager) issueXSRF(w http.ResponseWriter) error {
	token, err := m.csrf.Generate()
	if err != nil {
		return err
	}
	cookie.SetXSRF(w, token, m.opts.TTL)
	return nil
}

// Load returns the session referenced by the request's cookie
func (m *Manager) Load(ctx context.Context, r *http.Request) (*session.Session, error) {
	value, err := cookie.Get(r, m.opts.CookieName)
	if err != nil || value == "" {
		return nil, ErrNoSession
	}
	id, err := m.encryptor.Decrypt(value)
	if err != nil {
		return nil, ErrInvalidCookie
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, storage.ErrSessionNotFound
	}
	return s, nil
}

// Renew slides the session's expiry once less than half of the TTL
// remains. It reports whether the session was extended.
func (m *Manager) Renew(ctx context.Context, w http.ResponseWriter, s *session.Session) (bool, error) {
	if !m.opts.Sliding {
		return false, nil
	}
	now := m.now()
	if s.ExpiresAt.Sub(now) >= m.opts.TTL/2 {
		return false, nil
	}

	s.ExpiresAt = now.Add(m.opts.TTL).UTC()
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return false, fmt.Errorf("renewing session: %w", err)
	}
	if err := m.setCookie(w, s); err != nil {
		return false, err
	}
	log.LogDebugWithFields("browserauth", "Session renewed", map[string]any{
		"subject": s.Subject,
		"expires": s.ExpiresAt,
	})
	return true, nil
}

// Destroy deletes s and clears the session and XSRF cookies. s may be nil
// when the caller only wants the cookies gone.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) error {
	cookie.Clear(w, m.opts.CookieName)
	cookie.Clear(w, cookie.XSRFCookie)
	if s == nil {
		return nil
	}
	if err := m.store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ValidXSRF implements the double-submit check for state-changing requests.
// The token comes from the X-XSRF-TOKEN header or the xsrf_token form field.
func (m *Manager) ValidXSRF(r *http.Request) bool {
	cookieValue, err := cookie.Get(r, cookie.XSRFCookie)
	if err != nil {
		return false
	}
	submitted := r.Header.Get(cookie.XSRFHeader)
	if submitted == "" {
		submitted = r.FormValue(cookie.XSRFFormField)
	}
	return m.csrf.Matches(cookieValue, submitted)
}

// Middleware loads the session, if any, into the request context. Invalid
// or unknown cookies are cleared; storage failures leave the request
// anonymous without touching the cookie.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Load(r.Context(), r)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoSession):
			next.ServeHTTP(w, r)
			return
		case errors.Is(err, ErrInvalidCookie), errors.Is(err, storage.ErrSessionNotFound):
			log.LogDebugWithFields("browserauth", "Clearing stale session cookie", map[string]any{
				"reason": err.Error(),
			})
			cookie.Clear(w, m.opts.CookieName)
			next.ServeHTTP(w, r)
			return
		default:
			log.LogErrorWithFields("browserauth", "Failed to load session", map[string]any{
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		if _, err := m.Renew(r.Context(), w, s); err != nil {
			log.LogWarnWithFields("browserauth", "Failed to renew session", map[string]any{
				"subject": s.Subject,
				"error":   err.Error(),
			})
		}

		if current, err := cookie.Get(r, cookie.XSRFCookie); err != nil || !m.csrf.Validate(current) {
			if err := m.issueXSRF(w); err != nil {
				log.LogWarnWithFields("browserauth", "Failed to issue XSRF token", map[string]any{"error": err.Error()})
			}
		}

		next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), s)))
	})
}

// RequireSession rejects requests without a session with 401
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			jsonwriter.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
