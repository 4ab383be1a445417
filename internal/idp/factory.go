package idp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgellow/bff-front/internal/config"
	"github.com/dgellow/bff-front/internal/nativeauth"
)

// NewProvider creates a Provider based on the EntraConfig. The browser flow
// requests the same scopes as native sign-up.
func NewProvider(ctx context.Context, cfg config.EntraConfig, httpClient *http.Client) (Provider, error) {
	scopes := strings.Fields(nativeauth.BuildScope(cfg.APIScope))

	switch cfg.Provider {
	case config.ProviderAzure, "":
		return NewAzureProvider(ctx, AzureConfig{
			Instance:        cfg.Instance,
			TenantID:        cfg.Authority(),
			TenantSubdomain: cfg.TenantSubdomain,
			ClientID:        cfg.ClientID,
			ClientSecret:    string(cfg.ClientSecret),
			RedirectURI:     cfg.RedirectURI,
			Scopes:          scopes,
			HTTPClient:      httpClient,
		})

	case config.ProviderOIDC:
		return NewOIDCProvider(ctx, OIDCConfig{
			ProviderType:     "oidc",
			DiscoveryURL:     cfg.DiscoveryURL,
			AuthorizationURL: cfg.AuthorizationURL,
			TokenURL:         cfg.TokenURL,
			EndSessionURL:    cfg.EndSessionURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     string(cfg.ClientSecret),
			RedirectURI:      cfg.RedirectURI,
			Scopes:           scopes,
			HTTPClient:       httpClient,
		})

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
