package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/bff-front/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func testConfig(upstream string) config.Config {
	return config.Config{
		Version: config.VersionPrefix + "1",
		Server: config.ServerConfig{
			BaseURL:        "https://bff.example.com",
			Addr:           ":0",
			FrontendURL:    "https://app.example.com",
			AllowedOrigins: []string{"https://app.example.com"},
			MetricsPath:    config.DefaultMetricsPath,
		},
		Entra: config.EntraConfig{
			Provider:          config.ProviderOIDC,
			ClientID:          "client-id",
			ClientSecret:      config.Secret("client-secret"),
			RedirectURI:       "https://bff.example.com/auth/callback",
			NativeAuthBaseURL: "https://contoso.ciamlogin.com/contoso.onmicrosoft.com",
			APIScope:          "api://orders/access",
			AuthorizationURL:  "https://login.example.com/authorize",
			TokenURL:          "https://login.example.com/token",
		},
		Session: config.SessionConfig{
			CookieName:        config.DefaultCookieName,
			TTL:               time.Hour,
			SlidingExpiration: true,
			EncryptionKey:     config.Secret("0123456789abcdef0123456789abcdef"),
			Storage:           config.StorageMemory,
			CleanupInterval:   config.DefaultCleanupInterval,
		},
		Downstream: config.DownstreamConfig{
			Timeout: 5 * time.Second,
			Routes: []config.RouteConfig{
				{Prefix: "/api/", Target: upstream},
				{Prefix: "/public/", Target: upstream, RequireSession: boolPtr(false)},
			},
		},
		Telemetry: config.TelemetryConfig{ServiceName: config.DefaultServiceName},
	}
}

func newTestBFF(t *testing.T) http.Handler {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	t.Cleanup(upstream.Close)

	bff, err := NewBFFFront(context.Background(), testConfig(upstream.URL))
	require.NoError(t, err)
	return bff.Handler()
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestBFFRoutes(t *testing.T) {
	h := newTestBFF(t)

	t.Run("health", func(t *testing.T) {
		rr := get(h, "/health")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		assert.JSONEq(t, `{"status":"ok","version":"v0.0.1-DEV_EDITION1","storage":"memory"}`, rr.Body.String())
	})

	t.Run("me requires session", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(h, "/auth/me").Code)
	})

	t.Run("login redirects to the tenant", func(t *testing.T) {
		rr := get(h, "/auth/login?returnUrl=/orders")
		assert.Equal(t, http.StatusFound, rr.Code)
		loc := rr.Header().Get("Location")
		assert.True(t, strings.HasPrefix(loc, "https://login.example.com/authorize?"), loc)
		assert.Contains(t, loc, "client_id=client-id")
		assert.Contains(t, loc, "offline_access")
	})

	t.Run("protected route requires session", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(h, "/api/orders").Code)
	})

	t.Run("public route is proxied", func(t *testing.T) {
		rr := get(h, "/public/catalog")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "upstream:/catalog", rr.Body.String())

		rr = get(h, "/public")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "upstream:/", rr.Body.String())
	})

	t.Run("signup validates input", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, NativeSignupPrefix+"/start", strings.NewReader(`{"email":""}`)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "email_required")
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("metrics", func(t *testing.T) {
		rr := get(h, "/metrics")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "bff_http_requests_total")
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("unknown path", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(h, "/nowhere").Code)
	})
}

func TestNewBFFFrontRejectsBadRoute(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Downstream.Routes = append(cfg.Downstream.Routes, config.RouteConfig{Prefix: "/api", Target: "http://other"})

	_, err := NewBFFFront(context.Background(), cfg)
	assert.ErrorContains(t, err, "downstream proxy")
}

func TestSetupStorageDefaultsToMemory(t *testing.T) {
	store, err := setupStorage(context.Background(), config.SessionConfig{}, make([]byte, 32))
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
