package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalJSON decodes every section, substituting an empty object for
// missing ones so section defaults always apply.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version    string          `json:"version"`
		Server     json.RawMessage `json:"server"`
		Entra      json.RawMessage `json:"entra"`
		Session    json.RawMessage `json:"session"`
		Downstream json.RawMessage `json:"downstream"`
		Telemetry  json.RawMessage `json:"telemetry"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Version = raw.Version

	sections := []struct {
		name string
		raw  json.RawMessage
		dst  any
	}{
		{"server", raw.Server, &c.Server},
		{"entra", raw.Entra, &c.Entra},
		{"session", raw.Session, &c.Session},
		{"downstream", raw.Downstream, &c.Downstream},
		{"telemetry", raw.Telemetry, &c.Telemetry},
	}
	for _, s := range sections {
		body := s.raw
		if len(body) == 0 || string(body) == "null" {
			body = json.RawMessage("{}")
		}
		if err := json.Unmarshal(body, s.dst); err != nil {
			return fmt.Errorf("parsing %s: %w", s.name, err)
		}
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		FrontendURL    json.RawMessage `json:"frontendURL"`
		AllowedOrigins []string        `json:"allowedOrigins"`
		MetricsPath    string          `json:"metricsPath"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if s.BaseURL, err = parseOptional(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if s.Addr, err = parseOptional(raw.Addr, "addr"); err != nil {
		return err
	}
	if s.FrontendURL, err = parseOptional(raw.FrontendURL, "frontendURL"); err != nil {
		return err
	}
	if s.FrontendURL == "" {
		s.FrontendURL = DefaultFrontendURL
	}
	s.FrontendURL = strings.TrimSuffix(s.FrontendURL, "/")

	s.AllowedOrigins = raw.AllowedOrigins
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{s.FrontendURL}
	}
	s.MetricsPath = raw.MetricsPath
	if s.MetricsPath == "" {
		s.MetricsPath = DefaultMetricsPath
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for EntraConfig
func (e *EntraConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Provider           ProviderKind    `json:"provider"`
		TenantID           json.RawMessage `json:"tenantId"`
		Instance           json.RawMessage `json:"instance"`
		TenantSubdomain    json.RawMessage `json:"tenantSubdomain"`
		TenantDomain       json.RawMessage `json:"tenantDomain"`
		ClientID           json.RawMessage `json:"clientId"`
		ClientSecret       json.RawMessage `json:"clientSecret"`
		RedirectURI        json.RawMessage `json:"redirectUri"`
		NativeAuthClientID json.RawMessage `json:"nativeAuthClientId"`
		NativeAuthBaseURL  json.RawMessage `json:"nativeAuthBaseUrl"`
		APIScope           json.RawMessage `json:"apiScope"`
		RequiredGroupID    json.RawMessage `json:"requiredGroupId"`
		DiscoveryURL       json.RawMessage `json:"discoveryUrl"`
		AuthorizationURL   string          `json:"authorizationUrl"`
		TokenURL           string          `json:"tokenUrl"`
		EndSessionURL      string          `json:"endSessionUrl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Provider = raw.Provider
	if e.Provider == "" {
		e.Provider = ProviderAzure
	}
	e.AuthorizationURL = raw.AuthorizationURL
	e.TokenURL = raw.TokenURL
	e.EndSessionURL = raw.EndSessionURL

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"tenantId", raw.TenantID, &e.TenantID},
		{"instance", raw.Instance, &e.Instance},
		{"tenantSubdomain", raw.TenantSubdomain, &e.TenantSubdomain},
		{"tenantDomain", raw.TenantDomain, &e.TenantDomain},
		{"clientId", raw.ClientID, &e.ClientID},
		{"redirectUri", raw.RedirectURI, &e.RedirectURI},
		{"nativeAuthClientId", raw.NativeAuthClientID, &e.NativeAuthClientID},
		{"nativeAuthBaseUrl", raw.NativeAuthBaseURL, &e.NativeAuthBaseURL},
		{"apiScope", raw.APIScope, &e.APIScope},
		{"requiredGroupId", raw.RequiredGroupID, &e.RequiredGroupID},
		{"discoveryUrl", raw.DiscoveryURL, &e.DiscoveryURL},
	}
	for _, f := range fields {
		v, err := parseOptional(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	secret, err := parseOptional(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}
	e.ClientSecret = Secret(secret)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		CookieName        string           `json:"cookieName"`
		TTL               string           `json:"ttl"`
		SlidingExpiration *bool            `json:"slidingExpiration"` // Pointer to detect explicit false
		EncryptionKey     json.RawMessage  `json:"encryptionKey"`
		Storage           StorageKind      `json:"storage"`
		CleanupInterval   string           `json:"cleanupInterval"`
		Redis             *RedisConfig     `json:"redis"`
		Firestore         *FirestoreConfig `json:"firestore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.CookieName = raw.CookieName
	if s.CookieName == "" {
		s.CookieName = DefaultCookieName
	}

	var err error
	if s.TTL, err = parseDuration(raw.TTL, "ttl", DefaultSessionTTL); err != nil {
		return err
	}
	if s.CleanupInterval, err = parseDuration(raw.CleanupInterval, "cleanupInterval", DefaultCleanupInterval); err != nil {
		return err
	}

	s.SlidingExpiration = raw.SlidingExpiration == nil || *raw.SlidingExpiration

	key, err := parseOptional(raw.EncryptionKey, "encryptionKey")
	if err != nil {
		return err
	}
	s.EncryptionKey = Secret(key)

	s.Storage = raw.Storage
	if s.Storage == "" {
		s.Storage = StorageMemory
	}
	s.Redis = raw.Redis
	s.Firestore = raw.Firestore
	if s.Storage == StorageFirestore {
		if s.Firestore == nil {
			s.Firestore = &FirestoreConfig{}
		}
		if s.Firestore.Database == "" {
			s.Firestore.Database = DefaultFirestoreDatabase
		}
		if s.Firestore.Collection == "" {
			s.Firestore.Collection = DefaultFirestoreCollection
		}
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RedisConfig
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr      json.RawMessage `json:"addr"`
		Password  json.RawMessage `json:"password"`
		DB        int             `json:"db"`
		KeyPrefix string          `json:"keyPrefix"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if r.Addr, err = parseOptional(raw.Addr, "addr"); err != nil {
		return err
	}
	password, err := parseOptional(raw.Password, "password")
	if err != nil {
		return err
	}
	r.Password = Secret(password)
	r.DB = raw.DB
	r.KeyPrefix = raw.KeyPrefix
	return nil
}

// UnmarshalJSON implements custom unmarshaling for DownstreamConfig
func (d *DownstreamConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timeout string        `json:"timeout"`
		Routes  []RouteConfig `json:"routes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	timeout, err := parseDuration(raw.Timeout, "timeout", DefaultDownstreamTimeout)
	if err != nil {
		return err
	}
	d.Timeout = timeout
	d.Routes = raw.Routes
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RouteConfig
func (r *RouteConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Prefix         string          `json:"prefix"`
		Target         json.RawMessage `json:"target"`
		AllowedPaths   []string        `json:"allowedPaths"`
		RequireSession *bool           `json:"requireSession"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	target, err := parseOptional(raw.Target, "target")
	if err != nil {
		return err
	}
	r.Prefix = raw.Prefix
	r.Target = target
	r.AllowedPaths = raw.AllowedPaths
	r.RequireSession = raw.RequireSession
	return nil
}

// UnmarshalJSON implements custom unmarshaling for TelemetryConfig
func (t *TelemetryConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		OTLPEndpoint json.RawMessage `json:"otlpEndpoint"`
		ServiceName  string          `json:"serviceName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	endpoint, err := parseOptional(raw.OTLPEndpoint, "otlpEndpoint")
	if err != nil {
		return err
	}
	t.OTLPEndpoint = endpoint
	t.ServiceName = raw.ServiceName
	if t.ServiceName == "" {
		t.ServiceName = DefaultServiceName
	}
	return nil
}
