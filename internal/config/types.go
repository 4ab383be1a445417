package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Defaults applied while unmarshaling
const (
	DefaultCookieName          = "bff.session"
	DefaultSessionTTL          = 8 * time.Hour
	DefaultCleanupInterval     = 15 * time.Minute
	DefaultDownstreamTimeout   = 30 * time.Second
	DefaultMetricsPath         = "/metrics"
	DefaultFrontendURL         = "http://localhost:5173"
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "bff_front_sessions"
	DefaultServiceName         = "bff-front"
)

// ProviderKind selects how the browser sign-in endpoints are discovered
type ProviderKind string

const (
	ProviderAzure ProviderKind = "azure"
	ProviderOIDC  ProviderKind = "oidc"
)

// StorageKind selects the session store
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageRedis     StorageKind = "redis"
	StorageFirestore StorageKind = "firestore"
)

// ServerConfig is the listener and the SPA it serves
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	FrontendURL    string   `json:"frontendURL"`
	AllowedOrigins []string `json:"allowedOrigins"`
	MetricsPath    string   `json:"metricsPath"`
}

// EntraConfig identifies the tenant and the app registrations
type EntraConfig struct {
	Provider        ProviderKind `json:"provider"`
	TenantID        string       `json:"tenantId"`
	Instance        string       `json:"instance"`
	TenantSubdomain string       `json:"tenantSubdomain"`
	TenantDomain    string       `json:"tenantDomain"`

	// Confidential client used for the browser code flow
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`

	// Public client used for native sign-up; falls back to ClientID
	NativeAuthClientID string `json:"nativeAuthClientId"`
	NativeAuthBaseURL  string `json:"nativeAuthBaseUrl"`

	APIScope        string `json:"apiScope"`
	RequiredGroupID string `json:"requiredGroupId"`

	// Generic OIDC endpoints, only for provider "oidc"
	DiscoveryURL     string `json:"discoveryUrl"`
	AuthorizationURL string `json:"authorizationUrl"`
	TokenURL         string `json:"tokenUrl"`
	EndSessionURL    string `json:"endSessionUrl"`
}

// Authority returns the tenant segment used in Entra URLs
func (e EntraConfig) Authority() string {
	if e.TenantID != "" {
		return e.TenantID
	}
	return e.TenantDomain
}

// NativeAuthURL returns the native-auth base URL, deriving it from the
// tenant subdomain when it is not configured explicitly.
func (e EntraConfig) NativeAuthURL() string {
	if e.NativeAuthBaseURL != "" {
		return strings.TrimSuffix(e.NativeAuthBaseURL, "/")
	}
	if e.TenantSubdomain == "" {
		return ""
	}
	domain := e.TenantDomain
	if domain == "" {
		domain = e.TenantSubdomain + ".onmicrosoft.com"
	}
	return fmt.Sprintf("https://%s.ciamlogin.com/%s", e.TenantSubdomain, domain)
}

// RedisConfig locates the shared session store
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  Secret `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

// FirestoreConfig locates the GCP session store
type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// SessionConfig controls the session cookie and its backing store
type SessionConfig struct {
	CookieName        string           `json:"cookieName"`
	TTL               time.Duration    `json:"ttl"`
	SlidingExpiration bool             `json:"slidingExpiration"`
	EncryptionKey     Secret           `json:"encryptionKey"`
	Storage           StorageKind      `json:"storage"`
	CleanupInterval   time.Duration    `json:"cleanupInterval"`
	Redis             *RedisConfig     `json:"redis,omitempty"`
	Firestore         *FirestoreConfig `json:"firestore,omitempty"`
}

// RouteConfig forwards one path prefix to a downstream API
type RouteConfig struct {
	Prefix         string   `json:"prefix"`
	Target         string   `json:"target"`
	AllowedPaths   []string `json:"allowedPaths,omitempty"`
	RequireSession *bool    `json:"requireSession,omitempty"`
}

// DownstreamConfig lists the proxied APIs
type DownstreamConfig struct {
	Timeout time.Duration `json:"timeout"`
	Routes  []RouteConfig `json:"routes"`
}

// TelemetryConfig configures trace export. An empty endpoint falls back
// to BFF_FRONT_OTEL_ENDPOINT.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlpEndpoint"`
	ServiceName  string `json:"serviceName"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version    string           `json:"version"`
	Server     ServerConfig     `json:"server"`
	Entra      EntraConfig      `json:"entra"`
	Session    SessionConfig    `json:"session"`
	Downstream DownstreamConfig `json:"downstream"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// ParseConfigValue parses a JSON value that is either a plain string or
// an {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// parseOptional resolves raw when present
func parseOptional(raw json.RawMessage, field string) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	v, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return v, nil
}

func parseDuration(s, field string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
