package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/bff-front/internal/browserauth"
	"github.com/dgellow/bff-front/internal/cookie"
	"github.com/dgellow/bff-front/internal/crypto"
	"github.com/dgellow/bff-front/internal/idp"
	jsonwriter "github.com/dgellow/bff-front/internal/json"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/session"
	"github.com/dgellow/bff-front/internal/urlutil"
)

const (
	authStateTTL     = 10 * time.Minute
	codeExchangeTTL  = 30 * time.Second
	defaultExpiresIn = 3600
)

// DelegatedTokens caches the tokens a browser sign-in produced so the
// injector can call APIs on the user's behalf.
type DelegatedTokens interface {
	Seed(ctx context.Context, subject string, tok *oauth2.Token, scopes []string) error
	Forget(ctx context.Context, subject string) error
}

// AuthHandlersConfig configures AuthHandlers
type AuthHandlersConfig struct {
	FrontendURL     string
	RequiredGroupID string
	Scopes          []string
	// StateKey signs the OAuth state parameter
	StateKey []byte
}

// AuthHandlers serves browser sign-in and the session endpoints
type AuthHandlers struct {
	provider    idp.Provider
	sessions    *browserauth.Manager
	builder     *session.Builder
	delegated   DelegatedTokens
	stateToken  crypto.TokenSigner
	frontendURL string
	groupID     string
	scopes      []string
}

// NewAuthHandlers creates the auth handlers. delegated may be nil.
func NewAuthHandlers(
	provider idp.Provider,
	sessions *browserauth.Manager,
	builder *session.Builder,
	delegated DelegatedTokens,
	cfg AuthHandlersConfig,
) *AuthHandlers {
	return &AuthHandlers{
		provider:    provider,
		sessions:    sessions,
		builder:     builder,
		delegated:   delegated,
		stateToken:  crypto.NewTokenSigner(cfg.StateKey, authStateTTL),
		frontendURL: cfg.FrontendURL,
		groupID:     cfg.RequiredGroupID,
		scopes:      cfg.Scopes,
	}
}

// Register mounts the auth routes on mux
func (h *AuthHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/login", h.LoginHandler)
	mux.HandleFunc("GET /auth/callback", h.CallbackHandler)
	mux.Handle("GET /auth/me", browserauth.RequireSession(http.HandlerFunc(h.MeHandler)))
	mux.Handle("POST /auth/logout", browserauth.RequireSession(http.HandlerFunc(h.LogoutHandler)))
}

// LoginHandler sends the browser to the tenant's authorize endpoint. A user
// who is already signed in goes straight back to the SPA.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	returnURL := urlutil.LocalReturnPath(r.URL.Query().Get("returnUrl"))

	if _, ok := session.FromContext(r.Context()); ok {
		http.Redirect(w, r, h.frontendURL+returnURL, http.StatusFound)
		return
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to generate state nonce", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Failed to start sign-in")
		return
	}
	state, err := h.stateToken.Sign(session.AuthorizationState{Nonce: nonce, ReturnURL: returnURL})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to sign state", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Failed to start sign-in")
		return
	}

	cookie.SetSession(w, cookie.AuthStateCookie, nonce, authStateTTL)
	log.LogDebugWithFields("auth", "Redirecting to identity provider", map[string]any{
		"provider":  h.provider.Type(),
		"returnUrl": returnURL,
	})
	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// CallbackHandler completes the authorization-code flow and installs a
// browser session.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		log.LogWarnWithFields("auth", "Identity provider returned an error", map[string]any{
			"error":       errCode,
			"description": query.Get("error_description"),
		})
		jsonwriter.WriteBadRequest(w, "Authentication failed: "+errCode)
		return
	}

	code := query.Get("code")
	rawState := query.Get("state")
	if code == "" || rawState == "" {
		jsonwriter.WriteBadRequest(w, "Invalid callback parameters")
		return
	}

	var state session.AuthorizationState
	if err := h.stateToken.Verify(rawState, &state); err != nil {
		log.LogWarnWithFields("auth", "Invalid state parameter", map[string]any{"error": err.Error()})
		jsonwriter.WriteBadRequest(w, "Invalid state parameter")
		return
	}
	nonce, err := cookie.Get(r, cookie.AuthStateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(nonce), []byte(state.Nonce)) != 1 {
		log.LogWarnWithFields("auth", "State was issued to a different browser", nil)
		jsonwriter.WriteBadRequest(w, "Invalid state parameter")
		return
	}
	cookie.Clear(w, cookie.AuthStateCookie)
	returnURL := urlutil.LocalReturnPath(state.ReturnURL)

	ctx, cancel := context.WithTimeout(r.Context(), codeExchangeTTL)
	defer cancel()

	token, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to exchange code", map[string]any{"error": err.Error()})
		jsonwriter.WriteBadGateway(w, "Authentication failed")
		return
	}

	s, err := h.builder.Build(session.OriginBrowser, session.Grant{
		AccessToken:  token.AccessToken,
		IDToken:      idp.IDToken(token),
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn(token),
	})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to read id token", map[string]any{"error": err.Error()})
		jsonwriter.WriteBadGateway(w, "Authentication failed")
		return
	}

	if h.groupID != "" && !s.HasClaimValue(session.ClaimGroups, h.groupID) {
		log.LogWarnWithFields("auth", "User is not in the required group", map[string]any{
			"subject": s.Subject,
		})
		http.Redirect(w, r, h.frontendURL+"/access-denied", http.StatusFound)
		return
	}

	if err := h.sessions.Install(r.Context(), w, s); err != nil {
		log.LogErrorWithFields("auth", "Failed to install session", map[string]any{
			"subject": s.Subject,
			"error":   err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to create session")
		return
	}

	if h.delegated != nil && s.Subject != "" {
		if err := h.delegated.Seed(r.Context(), s.Subject, token, h.scopes); err != nil {
			log.LogWarnWithFields("auth", "Failed to cache delegated token", map[string]any{
				"subject": s.Subject,
				"error":   err.Error(),
			})
		}
	}

	http.Redirect(w, r, h.frontendURL+returnURL, http.StatusFound)
}

// expiresIn converts the token's absolute expiry back to seconds
func expiresIn(t *oauth2.Token) int {
	if t.Expiry.IsZero() {
		return defaultExpiresIn
	}
	seconds := int(time.Until(t.Expiry).Seconds())
	if seconds <= 0 {
		return defaultExpiresIn
	}
	return seconds
}

// MeResponse describes the signed-in user to the SPA
type MeResponse struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// MeHandler returns the current user
func (h *AuthHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	_ = jsonwriter.Write(w, MeResponse{
		Name:  s.Name,
		Email: s.DisplayEmail(),
		Roles: s.Roles(),
	})
}

// LogoutHandler ends the session. Browser sessions continue to the tenant's
// end-session endpoint so the IdP cookie goes too.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	if !h.sessions.ValidXSRF(r) {
		jsonwriter.WriteBadRequest(w, "Invalid anti-forgery token")
		return
	}

	if h.delegated != nil && s.Subject != "" {
		if err := h.delegated.Forget(r.Context(), s.Subject); err != nil {
			log.LogWarnWithFields("auth", "Failed to drop delegated token", map[string]any{
				"subject": s.Subject,
				"error":   err.Error(),
			})
		}
	}

	if err := h.sessions.Destroy(r.Context(), w, s); err != nil {
		log.LogErrorWithFields("auth", "Failed to delete session", map[string]any{
			"subject": s.Subject,
			"error":   err.Error(),
		})
	}

	home := h.frontendURL + "/"
	target := home
	if s.Origin == session.OriginBrowser {
		target = h.provider.EndSessionURL(home)
	}

	log.LogInfoWithFields("auth", "Signed out", map[string]any{
		"subject": s.Subject,
		"origin":  string(s.Origin),
	})
	http.Redirect(w, r, target, http.StatusFound)
}
