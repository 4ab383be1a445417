package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/urlutil"
)

// VersionPrefix is required at the start of every config's version field
const VersionPrefix = "v0.0.1-DEV_EDITION"

// MinEncryptionKeyLength is the shortest accepted session.encryptionKey
const MinEncryptionKeyLength = 32

// secretFields must be {"$env": ...} references when present
var secretFields = [][]string{
	{"entra", "clientSecret"},
	{"session", "encryptionKey"},
	{"session", "redis", "password"},
}

// readJSON returns the file as JSON, converting YAML by extension
func readJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("converting YAML config: %w", err)
		}
		return converted, nil
	}
	return data, nil
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := readJSON(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse processes JSON config bytes the way Load does
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if config.Entra.RedirectURI == "" && config.Server.BaseURL != "" {
		redirect, err := urlutil.JoinPath(config.Server.BaseURL, "auth", "callback")
		if err != nil {
			return Config{}, fmt.Errorf("config validation failed: server.baseURL: %w", err)
		}
		config.Entra.RedirectURI = redirect
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func lookup(raw map[string]any, path []string) (any, bool) {
	var cur any = raw
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// validateRawConfig rejects secrets written inline before anything is resolved
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretFields {
		value, ok := lookup(rawConfig, path)
		if !ok {
			continue
		}
		name := strings.Join(path, ".")
		switch v := value.(type) {
		case string:
			return fmt.Errorf("%s must use environment variable reference for security", name)
		case map[string]any:
			if _, hasEnv := v["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if _, err := urlutil.ParseAbsolute(config.Server.BaseURL); err != nil {
		return fmt.Errorf("server.baseURL: %w", err)
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, err := urlutil.ParseAbsolute(config.Server.FrontendURL); err != nil {
		return fmt.Errorf("server.frontendURL: %w", err)
	}
	if !strings.HasPrefix(config.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metricsPath must start with /")
	}

	if err := validateEntra(&config.Entra); err != nil {
		return fmt.Errorf("entra: %w", err)
	}
	if err := validateSession(&config.Session); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := validateDownstream(&config.Downstream, config.Server.MetricsPath); err != nil {
		return fmt.Errorf("downstream: %w", err)
	}
	return nil
}

func validateEntra(e *EntraConfig) error {
	if e.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if e.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}

	switch e.Provider {
	case ProviderAzure:
		if e.Authority() == "" {
			return fmt.Errorf("tenantId or tenantDomain is required for the azure provider")
		}
	case ProviderOIDC:
		if e.DiscoveryURL == "" && (e.AuthorizationURL == "" || e.TokenURL == "") {
			return fmt.Errorf("either discoveryUrl or both authorizationUrl and tokenUrl are required for the oidc provider")
		}
	default:
		return fmt.Errorf("unknown provider %q (use azure or oidc)", e.Provider)
	}

	nativeURL := e.NativeAuthURL()
	if nativeURL == "" {
		return fmt.Errorf("nativeAuthBaseUrl or tenantSubdomain is required")
	}
	if _, err := urlutil.ParseAbsolute(nativeURL); err != nil {
		return fmt.Errorf("nativeAuthBaseUrl: %w", err)
	}
	if _, err := url.Parse(e.RedirectURI); err != nil {
		return fmt.Errorf("redirectUri: %w", err)
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	if len(s.EncryptionKey) < MinEncryptionKeyLength {
		return fmt.Errorf("encryptionKey must be at least %d characters (got %d). Generate with: openssl rand -base64 32", MinEncryptionKeyLength, len(s.EncryptionKey))
	}
	if s.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if s.CleanupInterval <= 0 {
		return fmt.Errorf("cleanupInterval must be positive")
	}
	if s.CleanupInterval > s.TTL {
		log.LogWarn("Session cleanup interval is greater than session ttl")
	}

	switch s.Storage {
	case StorageMemory:
	case StorageRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using redis storage")
		}
	case StorageFirestore:
		if s.Firestore == nil || s.Firestore.Project == "" {
			return fmt.Errorf("firestore.project is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (use memory, redis or firestore)", s.Storage)
	}
	return nil
}

func segmentPrefix(p string) string {
	return "/" + strings.Trim(p, "/") + "/"
}

func validateDownstream(d *DownstreamConfig, metricsPath string) error {
	if d.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	// served by the BFF itself
	reserved := []string{"/auth", "/health", metricsPath}

	seen := map[string]bool{}
	for i, r := range d.Routes {
		if !strings.HasPrefix(r.Prefix, "/") || strings.Trim(r.Prefix, "/") == "" {
			return fmt.Errorf("routes[%d].prefix must be a non-root path starting with /", i)
		}
		normalized := segmentPrefix(r.Prefix)
		if seen[normalized] {
			return fmt.Errorf("routes[%d].prefix %s is duplicated", i, r.Prefix)
		}
		seen[normalized] = true
		for _, own := range reserved {
			rn := segmentPrefix(own)
			if strings.HasPrefix(normalized, rn) || strings.HasPrefix(rn, normalized) {
				return fmt.Errorf("routes[%d].prefix %s collides with %s", i, r.Prefix, own)
			}
		}
		if _, err := urlutil.ParseAbsolute(r.Target); err != nil {
			return fmt.Errorf("routes[%d].target: %w", i, err)
		}
	}
	return nil
}
