package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultAzureInstance is the workforce-tenant login host
const DefaultAzureInstance = "https://login.microsoftonline.com/"

// AzureConfig identifies an Entra tenant. For external (CIAM) tenants set
// TenantSubdomain and leave Instance empty; the instance becomes
// https://{subdomain}.ciamlogin.com/.
type AzureConfig struct {
	Instance        string
	TenantID        string
	TenantSubdomain string
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Scopes          []string
	HTTPClient      *http.Client
}

// AzureDiscoveryURL returns the tenant's v2.0 discovery document URL
func AzureDiscoveryURL(instance, tenantSubdomain, tenantID string) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenantId is required for Azure AD")
	}
	if instance == "" {
		if tenantSubdomain != "" {
			instance = fmt.Sprintf("https://%s.ciamlogin.com/", tenantSubdomain)
		} else {
			instance = DefaultAzureInstance
		}
	}
	return strings.TrimSuffix(instance, "/") + "/" + tenantID + "/v2.0/.well-known/openid-configuration", nil
}

// NewAzureProvider creates an Entra provider using OIDC discovery.
func NewAzureProvider(ctx context.Context, cfg AzureConfig) (*OIDCProvider, error) {
	discoveryURL, err := AzureDiscoveryURL(cfg.Instance, cfg.TenantSubdomain, cfg.TenantID)
	if err != nil {
		return nil, err
	}

	return NewOIDCProvider(ctx, OIDCConfig{
		ProviderType: "azure",
		DiscoveryURL: discoveryURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		HTTPClient:   cfg.HTTPClient,
	})
}
