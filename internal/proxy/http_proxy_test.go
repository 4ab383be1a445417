package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/bff-front/internal/delegation"
	"github.com/dgellow/bff-front/internal/session"
)

type seenRequest struct {
	Method  string
	Path    string
	Query   string
	Body    string
	Headers http.Header
}

func newUpstream(t *testing.T) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*seen = seenRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Body:    string(body),
			Headers: r.Header.Clone(),
		}
		switch r.URL.Path {
		case "/v1/redirect":
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		default:
			w.Header().Set("X-Upstream", "yes")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func boolPtr(b bool) *bool { return &b }

func withSession(r *http.Request, token string) *http.Request {
	s := &session.Session{ID: "s1", Subject: "user-1", Tokens: session.TokenSet{AccessToken: token}}
	return r.WithContext(session.WithContext(r.Context(), s))
}

func newTestProxy(t *testing.T, routes ...Route) *HTTPProxy {
	t.Helper()
	p, err := NewHTTPProxy(routes, delegation.NewInjector(nil, delegation.SessionSource{}), time.Second)
	require.NoError(t, err)
	return p
}

func TestNewHTTPProxyValidation(t *testing.T) {
	injector := delegation.NewInjector(nil)

	_, err := NewHTTPProxy(nil, nil, 0)
	assert.Error(t, err)

	_, err = NewHTTPProxy([]Route{{Prefix: "/api", Target: "not-a-url"}}, injector, 0)
	assert.Error(t, err)

	_, err = NewHTTPProxy([]Route{
		{Prefix: "/api", Target: "http://a"},
		{Prefix: "/api/", Target: "http://b"},
	}, injector, 0)
	assert.ErrorContains(t, err, "duplicate")

	p, err := NewHTTPProxy([]Route{
		{Prefix: "api", Target: "http://a"},
		{Prefix: "/api/admin/", Target: "http://b"},
	}, injector, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/admin/", "/api/"}, p.Prefixes())
}

func TestProxyForwardsWithCredentials(t *testing.T) {
	upstream, seen := newUpstream(t)
	p := newTestProxy(t, Route{Prefix: "/api/", Target: upstream.URL + "/v1"})

	req := httptest.NewRequest(http.MethodPost, "/api/orders?limit=5", strings.NewReader(`{"n":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer spoofed")
	req.Header.Set("Cookie", "bff.session=secret")
	req.Header.Set("Connection", "keep-alive, X-Hop")
	req.Header.Set("X-Hop", "drop me")
	req.Header.Set("X-Custom", "keep me")
	req = withSession(req, "user-access-token")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Upstream"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/v1/orders", seen.Path)
	assert.Equal(t, "limit=5", seen.Query)
	assert.Equal(t, `{"n":1}`, seen.Body)
	assert.Equal(t, "Bearer user-access-token", seen.Headers.Get("Authorization"))
	assert.Empty(t, seen.Headers.Get("Cookie"))
	assert.Empty(t, seen.Headers.Get("X-Hop"))
	assert.Equal(t, "keep me", seen.Headers.Get("X-Custom"))
	assert.Equal(t, "http", seen.Headers.Get("X-Forwarded-Proto"))
}

func TestProxyRequiresSession(t *testing.T) {
	upstream, seen := newUpstream(t)
	p := newTestProxy(t, Route{Prefix: "/api/", Target: upstream.URL})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.Empty(t, seen.Method, "upstream must not be called")
}

func TestProxyPublicRouteForwardsAnonymously(t *testing.T) {
	upstream, seen := newUpstream(t)
	p := newTestProxy(t, Route{Prefix: "/public/", Target: upstream.URL, RequireSession: boolPtr(false)})

	req := httptest.NewRequest(http.MethodGet, "/public/catalog", nil)
	req.Header.Set("Authorization", "Bearer spoofed")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/catalog", seen.Path)
	assert.Empty(t, seen.Headers.Get("Authorization"))
}

func TestProxyPathAllowlist(t *testing.T) {
	upstream, seen := newUpstream(t)
	p := newTestProxy(t, Route{Prefix: "/api/", Target: upstream.URL, AllowedPaths: []string{"/orders/**"}})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), "t"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, seen.Method)

	w = httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/orders/7", nil), "t"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/orders/7", seen.Path)
}

func TestProxyLongestPrefixWins(t *testing.T) {
	general, generalSeen := newUpstream(t)
	admin, adminSeen := newUpstream(t)
	p := newTestProxy(t,
		Route{Prefix: "/api/", Target: general.URL},
		Route{Prefix: "/api/admin/", Target: admin.URL},
	)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), "t"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/users", adminSeen.Path)
	assert.Empty(t, generalSeen.Method)

	w = httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api", nil), "t"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/", generalSeen.Path)
}

func TestProxyUnknownRoute(t *testing.T) {
	p := newTestProxy(t, Route{Prefix: "/api/", Target: "http://127.0.0.1:1"})
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apix/orders", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProxyDoesNotFollowRedirects(t *testing.T) {
	upstream, _ := newUpstream(t)
	p := newTestProxy(t, Route{Prefix: "/api/", Target: upstream.URL + "/v1"})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/redirect", nil), "t"))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/elsewhere", w.Header().Get("Location"))
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	p := newTestProxy(t, Route{Prefix: "/api/", Target: target})
	w := httptest.NewRecorder()
	p.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "t"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
