package nativeauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BaseScope is always requested during token exchange
const BaseScope = "openid profile offline_access"

// Config describes a tenant's native-auth surface
type Config struct {
	BaseURL        string
	PublicClientID string
	ClientID       string
	APIScope       string
	HTTPClient     *http.Client
}

// resolved is the immutable settings a Client operates on
type resolved struct {
	baseURL  string
	clientID string
	scope    string
}

func resolve(cfg Config) (resolved, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return resolved{}, fmt.Errorf("native auth base URL is required")
	}
	clientID := EffectiveClientID(cfg.PublicClientID, cfg.ClientID)
	if clientID == "" {
		return resolved{}, fmt.Errorf("native auth requires nativeAuthClientId or clientId")
	}
	return resolved{
		baseURL:  base,
		clientID: clientID,
		scope:    BuildScope(cfg.APIScope),
	}, nil
}

// EffectiveClientID prefers the dedicated native-auth public client
func EffectiveClientID(publicClientID, clientID string) string {
	if id := strings.TrimSpace(publicClientID); id != "" {
		return id
	}
	return strings.TrimSpace(clientID)
}

// BuildScope joins BaseScope and the API scope, dropping duplicate entries
// while keeping first-seen order.
func BuildScope(apiScope string) string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strings.Fields(BaseScope + " " + apiScope) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
