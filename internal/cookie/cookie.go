package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/bff-front/internal/envutil"
	"github.com/dgellow/bff-front/internal/log"
)

// Cookie and header names shared with the SPA
const (
	DefaultSessionCookie = "bff.session"
	XSRFCookie           = "XSRF-TOKEN"
	XSRFHeader           = "X-XSRF-TOKEN"
	XSRFFormField        = "xsrf_token"

	// AuthStateCookie binds a browser sign-in to the browser that started it
	AuthStateCookie = "bff.auth_state"
)

// SetSession sets the HttpOnly session cookie. maxAge is rounded down to
// whole seconds and never below one.
func SetSession(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	seconds := int(maxAge.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   seconds,
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"name":     name,
		"maxAge":   maxAge.String(),
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// SetXSRF sets the anti-forgery cookie. The SPA reads it and echoes it in
// the X-XSRF-TOKEN header.
func SetXSRF(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     XSRFCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: false, // must be readable by JavaScript
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	log.LogTraceWithFields("cookie", "Cookie cleared", map[string]any{"name": name})
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
