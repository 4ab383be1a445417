package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/bff-front/internal/ioutil"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/urlutil"
)

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{"openid", "profile", "offline_access"}

// OIDCConfig configures a generic OIDC provider.
type OIDCConfig struct {
	// ProviderType identifies this provider (e.g., "oidc", "azure").
	ProviderType string

	// Discovery URL for OIDC discovery (optional if endpoints are provided directly).
	DiscoveryURL string

	// Direct endpoint configuration (used if DiscoveryURL is not set).
	// EndSessionURL is optional.
	AuthorizationURL string
	TokenURL         string
	EndSessionURL    string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// HTTPClient is used for discovery, code exchange and refresh
	HTTPClient *http.Client
}

// OIDCProvider implements the Provider interface for OIDC-compliant identity providers.
type OIDCProvider struct {
	providerType  string
	config        oauth2.Config
	endSessionURL string
	httpClient    *http.Client
}

type oidcDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

// NewOIDCProvider creates a new OIDC provider, fetching the discovery
// document when DiscoveryURL is set.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	var authURL, tokenURL, endSessionURL string
	if cfg.DiscoveryURL != "" {
		discovery, err := fetchOIDCDiscovery(ctx, httpClient, cfg.DiscoveryURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
		}
		authURL = discovery.AuthorizationEndpoint
		tokenURL = discovery.TokenEndpoint
		endSessionURL = discovery.EndSessionEndpoint
	} else {
		if cfg.AuthorizationURL == "" || cfg.TokenURL == "" {
			return nil, errors.New("either discoveryUrl or both authorizationUrl and tokenUrl must be provided")
		}
		authURL = cfg.AuthorizationURL
		tokenURL = cfg.TokenURL
		endSessionURL = cfg.EndSessionURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oidc"
	}

	return &OIDCProvider{
		providerType: providerType,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endSessionURL: endSessionURL,
		httpClient:    httpClient,
	}, nil
}

func fetchOIDCDiscovery(ctx context.Context, client *http.Client, discoveryURL string) (*oidcDiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var discovery oidcDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if discovery.AuthorizationEndpoint == "" || discovery.TokenEndpoint == "" {
		return nil, errors.New("discovery document missing required endpoints")
	}

	log.LogDebugWithFields("idp", "Loaded OIDC discovery document", map[string]any{
		"issuer":     discovery.Issuer,
		"endSession": discovery.EndSessionEndpoint != "",
	})
	return &discovery, nil
}

// Type returns the provider type.
func (p *OIDCProvider) Type() string {
	return p.providerType
}

// Config exposes the underlying OAuth2 configuration
func (p *OIDCProvider) Config() *oauth2.Config {
	return &p.config
}

// AuthURL generates the authorization URL.
func (p *OIDCProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

// EndSessionURL returns the RP-initiated logout URL
func (p *OIDCProvider) EndSessionURL(postLogoutRedirect string) string {
	if p.endSessionURL == "" {
		return postLogoutRedirect
	}
	u, err := urlutil.WithQuery(p.endSessionURL, url.Values{
		"post_logout_redirect_uri": {postLogoutRedirect},
		"client_id":                {p.config.ClientID},
	})
	if err != nil {
		log.LogWarnWithFields("idp", "Invalid end-session endpoint", map[string]any{"error": err.Error()})
		return postLogoutRedirect
	}
	return u
}

// TokenSource implements Provider
func (p *OIDCProvider) TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource {
	return p.config.TokenSource(p.clientContext(ctx), t)
}
