package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("TEST_ENTRA_SECRET", "entra-secret")
	t.Setenv("TEST_ENCRYPTION_KEY", testEncryptionKey)
}

const minimalJSON = `{
  "version": "v0.0.1-DEV_EDITION",
  "server": {"baseURL": "https://bff.example.com", "addr": ":8080"},
  "entra": {
    "tenantId": "11111111-2222-3333-4444-555555555555",
    "tenantSubdomain": "contoso",
    "clientId": "bff-client",
    "clientSecret": {"$env": "TEST_ENTRA_SECRET"}
  },
  "session": {"encryptionKey": {"$env": "TEST_ENCRYPTION_KEY"}}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	setSecrets(t)
	cfg, err := Load(writeFile(t, "config.json", minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, DefaultFrontendURL, cfg.Server.FrontendURL)
	assert.Equal(t, []string{DefaultFrontendURL}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DefaultMetricsPath, cfg.Server.MetricsPath)

	assert.Equal(t, ProviderAzure, cfg.Entra.Provider)
	assert.Equal(t, Secret("entra-secret"), cfg.Entra.ClientSecret)
	assert.Equal(t, "https://bff.example.com/auth/callback", cfg.Entra.RedirectURI)
	assert.Equal(t, "https://contoso.ciamlogin.com/contoso.onmicrosoft.com", cfg.Entra.NativeAuthURL())

	assert.Equal(t, DefaultCookieName, cfg.Session.CookieName)
	assert.Equal(t, DefaultSessionTTL, cfg.Session.TTL)
	assert.True(t, cfg.Session.SlidingExpiration)
	assert.Equal(t, StorageMemory, cfg.Session.Storage)
	assert.Equal(t, Secret(testEncryptionKey), cfg.Session.EncryptionKey)

	assert.Equal(t, DefaultDownstreamTimeout, cfg.Downstream.Timeout)
	assert.Empty(t, cfg.Downstream.Routes)
	assert.Equal(t, DefaultServiceName, cfg.Telemetry.ServiceName)
}

func TestLoadYAML(t *testing.T) {
	setSecrets(t)
	t.Setenv("TEST_API_TARGET", "https://api.internal:7001")

	yamlConfig := `
version: v0.0.1-DEV_EDITION
server:
  baseURL: https://bff.example.com
  addr: ":8080"
  frontendURL: https://app.example.com/
entra:
  tenantDomain: contoso.onmicrosoft.com
  nativeAuthBaseUrl: https://contoso.ciamlogin.com/contoso.onmicrosoft.com/
  clientId: bff-client
  clientSecret: {$env: TEST_ENTRA_SECRET}
  apiScope: api://downstream/.default
  requiredGroupId: group-1
session:
  ttl: 2h
  slidingExpiration: false
  encryptionKey: {$env: TEST_ENCRYPTION_KEY}
  storage: firestore
  firestore:
    project: my-project
downstream:
  timeout: 5s
  routes:
    - prefix: /api/
      target: {$env: TEST_API_TARGET}
      allowedPaths: ["/orders/**"]
    - prefix: /public/
      target: https://public.internal
      requireSession: false
`
	cfg, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.Server.FrontendURL)
	assert.Equal(t, "contoso.onmicrosoft.com", cfg.Entra.Authority())
	assert.Equal(t, "https://contoso.ciamlogin.com/contoso.onmicrosoft.com", cfg.Entra.NativeAuthURL())
	assert.Equal(t, "group-1", cfg.Entra.RequiredGroupID)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Session.SlidingExpiration)
	require.NotNil(t, cfg.Session.Firestore)
	assert.Equal(t, DefaultFirestoreDatabase, cfg.Session.Firestore.Database)
	assert.Equal(t, DefaultFirestoreCollection, cfg.Session.Firestore.Collection)

	assert.Equal(t, 5*time.Second, cfg.Downstream.Timeout)
	require.Len(t, cfg.Downstream.Routes, 2)
	assert.Equal(t, "https://api.internal:7001", cfg.Downstream.Routes[0].Target)
	assert.Equal(t, []string{"/orders/**"}, cfg.Downstream.Routes[0].AllowedPaths)
	assert.Nil(t, cfg.Downstream.Routes[0].RequireSession)
	require.NotNil(t, cfg.Downstream.Routes[1].RequireSession)
	assert.False(t, *cfg.Downstream.Routes[1].RequireSession)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		expectError string
	}{
		{
			name:        "missing version",
			config:      `{"server": {}}`,
			expectError: "config version is required",
		},
		{
			name:        "wrong version",
			config:      `{"version": "v2"}`,
			expectError: "unsupported config version",
		},
		{
			name: "inline client secret",
			config: `{"version": "v0.0.1-DEV_EDITION",
				"entra": {"clientSecret": "plain"}}`,
			expectError: "entra.clientSecret must use environment variable reference",
		},
		{
			name: "inline encryption key",
			config: `{"version": "v0.0.1-DEV_EDITION",
				"session": {"encryptionKey": {"value": "x"}}}`,
			expectError: "session.encryptionKey must use {\"$env\"",
		},
		{
			name: "unset env var",
			config: `{"version": "v0.0.1-DEV_EDITION",
				"entra": {"clientSecret": {"$env": "TEST_DOES_NOT_EXIST_123"}}}`,
			expectError: "environment variable TEST_DOES_NOT_EXIST_123 not set",
		},
		{
			name: "bad duration",
			config: `{"version": "v0.0.1-DEV_EDITION",
				"session": {"ttl": "forever"}}`,
			expectError: "parsing ttl",
		},
		{
			name:        "missing base url",
			config:      `{"version": "v0.0.1-DEV_EDITION"}`,
			expectError: "server.baseURL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Version: VersionPrefix,
		Server: ServerConfig{
			BaseURL:     "https://bff.example.com",
			Addr:        ":8080",
			FrontendURL: "https://app.example.com",
			MetricsPath: DefaultMetricsPath,
		},
		Entra: EntraConfig{
			Provider:          ProviderAzure,
			TenantID:          "tenant",
			ClientID:          "client",
			ClientSecret:      "secret",
			NativeAuthBaseURL: "https://contoso.ciamlogin.com/contoso.onmicrosoft.com",
			RedirectURI:       "https://bff.example.com/auth/callback",
		},
		Session: SessionConfig{
			CookieName:      DefaultCookieName,
			TTL:             time.Hour,
			CleanupInterval: time.Minute,
			EncryptionKey:   testEncryptionKey,
			Storage:         StorageMemory,
		},
		Downstream: DownstreamConfig{Timeout: time.Second},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:        "relative base url",
			mutate:      func(c *Config) { c.Server.BaseURL = "/bff" },
			expectError: "server.baseURL",
		},
		{
			name:        "missing addr",
			mutate:      func(c *Config) { c.Server.Addr = "" },
			expectError: "server.addr is required",
		},
		{
			name:        "missing tenant",
			mutate:      func(c *Config) { c.Entra.TenantID = "" },
			expectError: "tenantId or tenantDomain is required",
		},
		{
			name: "oidc without endpoints",
			mutate: func(c *Config) {
				c.Entra.Provider = ProviderOIDC
			},
			expectError: "either discoveryUrl or both",
		},
		{
			name: "oidc with direct endpoints",
			mutate: func(c *Config) {
				c.Entra.Provider = ProviderOIDC
				c.Entra.AuthorizationURL = "https://idp/authorize"
				c.Entra.TokenURL = "https://idp/token"
			},
		},
		{
			name:        "unknown provider",
			mutate:      func(c *Config) { c.Entra.Provider = "okta" },
			expectError: "unknown provider",
		},
		{
			name:        "no native auth url",
			mutate:      func(c *Config) { c.Entra.NativeAuthBaseURL = "" },
			expectError: "nativeAuthBaseUrl or tenantSubdomain is required",
		},
		{
			name:        "short encryption key",
			mutate:      func(c *Config) { c.Session.EncryptionKey = "short" },
			expectError: "encryptionKey must be at least 32 characters",
		},
		{
			name:        "redis without addr",
			mutate:      func(c *Config) { c.Session.Storage = StorageRedis },
			expectError: "redis.addr is required",
		},
		{
			name: "firestore without project",
			mutate: func(c *Config) {
				c.Session.Storage = StorageFirestore
				c.Session.Firestore = &FirestoreConfig{Database: "(default)"}
			},
			expectError: "firestore.project is required",
		},
		{
			name:        "unknown storage",
			mutate:      func(c *Config) { c.Session.Storage = "sqlite" },
			expectError: "unknown storage",
		},
		{
			name: "route collides with auth",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{{Prefix: "/auth/", Target: "https://api"}}
			},
			expectError: "collides with /auth",
		},
		{
			name: "route collides with metrics",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{{Prefix: "/metrics", Target: "https://api"}}
			},
			expectError: "collides with /metrics",
		},
		{
			name: "root route",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{{Prefix: "/", Target: "https://api"}}
			},
			expectError: "non-root path",
		},
		{
			name: "duplicate routes",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{
					{Prefix: "/api", Target: "https://a"},
					{Prefix: "/api/", Target: "https://b"},
				}
			},
			expectError: "duplicated",
		},
		{
			name: "relative target",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{{Prefix: "/api/", Target: "api:7001"}}
			},
			expectError: "routes[0].target",
		},
		{
			name: "healthz is not health",
			mutate: func(c *Config) {
				c.Downstream.Routes = []RouteConfig{{Prefix: "/healthz/", Target: "https://api"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNativeAuthURL(t *testing.T) {
	tests := []struct {
		name  string
		entra EntraConfig
		want  string
	}{
		{"explicit wins", EntraConfig{NativeAuthBaseURL: "https://x/y/", TenantSubdomain: "contoso"}, "https://x/y"},
		{"derived from subdomain", EntraConfig{TenantSubdomain: "contoso"}, "https://contoso.ciamlogin.com/contoso.onmicrosoft.com"},
		{"derived with custom domain", EntraConfig{TenantSubdomain: "contoso", TenantDomain: "login.contoso.com"}, "https://contoso.ciamlogin.com/login.contoso.com"},
		{"nothing configured", EntraConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entra.NativeAuthURL())
		})
	}
}
