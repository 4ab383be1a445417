// Package nativeauth talks to the Entra External ID native-authentication
// signup API and its token endpoint.
package nativeauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgellow/bff-front/internal/ioutil"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/metrics"
	"github.com/dgellow/bff-front/internal/urlutil"
)

// Endpoint names, used for metrics, spans and diagnostics
const (
	EndpointStart     = "signup/v1.0/start"
	EndpointChallenge = "signup/v1.0/challenge"
	EndpointContinue  = "signup/v1.0/continue"
	EndpointToken     = "oauth2/v2.0/token"
)

const tracerName = "github.com/dgellow/bff-front/internal/nativeauth"

// Client is a stateless native-auth client. It is safe for concurrent use.
type Client struct {
	cfg        resolved
	httpClient *http.Client
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option customises a Client
type Option func(*Client)

// WithMetrics records per-endpoint call counts and latencies
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient validates cfg and returns a client. A missing client id is a
// configuration error.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := urlutil.JoinPath(r.baseURL, EndpointToken); err != nil {
		return nil, fmt.Errorf("invalid native auth base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}

	c := &Client{
		cfg:        r,
		httpClient: httpClient,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientID returns the client id sent on every request
func (c *Client) ClientID() string {
	return c.cfg.clientID
}

// Scope returns the scope requested during token exchange
func (c *Client) Scope() string {
	return c.cfg.scope
}

// StartSignUp begins a sign-up for email
func (c *Client) StartSignUp(ctx context.Context, email string) (StepResult, error) {
	return c.postStep(ctx, EndpointStart, url.Values{
		"client_id":      {c.cfg.clientID},
		"challenge_type": {"oob password redirect"},
		"username":       {email},
	})
}

// RequestOTPChallenge asks the tenant to email a one-time code
func (c *Client) RequestOTPChallenge(ctx context.Context, continuationToken string) (StepResult, error) {
	return c.postStep(ctx, EndpointChallenge, url.Values{
		"client_id":          {c.cfg.clientID},
		"challenge_type":     {"oob"},
		"continuation_token": {continuationToken},
	})
}

// SubmitOTP submits the emailed code
func (c *Client) SubmitOTP(ctx context.Context, continuationToken, code string) (StepResult, error) {
	return c.postStep(ctx, EndpointContinue, url.Values{
		"client_id":          {c.cfg.clientID},
		"continuation_token": {continuationToken},
		"grant_type":         {"oob"},
		"oob":                {code},
	})
}

// SubmitPassword submits the new account's password
func (c *Client) SubmitPassword(ctx context.Context, continuationToken, password string) (StepResult, error) {
	return c.postStep(ctx, EndpointContinue, url.Values{
		"client_id":          {c.cfg.clientID},
		"continuation_token": {continuationToken},
		"grant_type":         {"password"},
		"password":           {password},
	})
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeTokens redeems the final continuation token. Any outcome other
// than a complete token set is a *TokenExchangeError.
func (c *Client) ExchangeTokens(ctx context.Context, continuationToken string) (*TokenResult, error) {
	status, body, err := c.post(ctx, EndpointToken, url.Values{
		"client_id":          {c.cfg.clientID},
		"continuation_token": {continuationToken},
		"grant_type":         {"continuation_token"},
		"scope":              {c.cfg.scope},
	})
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &TokenExchangeError{Kind: KindEmptyBody, Status: status}
	}

	var resp *tokenResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, &TokenExchangeError{
			Kind:   KindMalformedJSON,
			Status: status,
			Detail: ioutil.Truncate(string(trimmed), DiagnosticLimit),
		}
	}
	if resp == nil {
		return nil, &TokenExchangeError{
			Kind:   KindIncompleteResponse,
			Status: status,
			Detail: "token response was null",
		}
	}

	if resp.Error != "" {
		detail := resp.ErrorDescription
		if detail == "" {
			detail = resp.Error
		}
		return nil, &TokenExchangeError{
			Kind:   KindProviderError,
			Status: status,
			Code:   resp.Error,
			Detail: ioutil.Truncate(detail, DiagnosticLimit),
		}
	}

	var missing []string
	if resp.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if resp.IDToken == "" {
		missing = append(missing, "id_token")
	}
	if resp.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return nil, &TokenExchangeError{
			Kind:   KindIncompleteResponse,
			Status: status,
			Detail: "missing " + strings.Join(missing, ", "),
		}
	}

	return &TokenResult{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

// postStep posts form to a signup endpoint and interprets the body. Bodies
// that cannot be read as a step response become synthetic error results.
func (c *Client) postStep(ctx context.Context, endpoint string, form url.Values) (StepResult, error) {
	status, body, err := c.post(ctx, endpoint, form)
	if err != nil {
		return StepResult{}, err
	}
	result := interpretStep(endpoint, status, body)
	if result.Failed() {
		log.LogDebugWithFields("nativeauth", "Step returned error", map[string]any{
			"endpoint": endpoint,
			"status":   status,
			"error":    result.Error,
			"suberror": result.Suberror,
		})
	}
	return result, nil
}

func interpretStep(endpoint string, status int, body []byte) StepResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return StepResult{
			Error: ErrCodeUnavailable,
			ErrorDescription: fmt.Sprintf(
				"native auth endpoint %s returned an empty response (HTTP %d); check that native authentication is enabled for the app registration and user flow",
				endpoint, status),
		}
	}

	if trimmed[0] != '{' && !bytes.Equal(trimmed, []byte("null")) {
		return invalidResponse(endpoint, status, trimmed)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return invalidResponse(endpoint, status, trimmed)
	}
	if raw == nil || !hasAny(raw, "continuation_token", "challenge_type", "error") {
		return StepResult{
			Error:            ErrCodeNullResponse,
			ErrorDescription: fmt.Sprintf("native auth endpoint %s returned no usable fields", endpoint),
		}
	}

	var result StepResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return invalidResponse(endpoint, status, trimmed)
	}
	if !result.Failed() && result.ContinuationToken == "" && result.ChallengeType != ChallengeTypeRedirect {
		return missingContinuation(endpoint)
	}
	return result
}

// missingContinuation reports a success body that cannot be resumed from
func missingContinuation(endpoint string) StepResult {
	return StepResult{
		Error:            ErrCodeNullResponse,
		ErrorDescription: fmt.Sprintf("native auth endpoint %s returned no continuation token", endpoint),
	}
}

func invalidResponse(endpoint string, status int, body []byte) StepResult {
	return StepResult{
		Error: ErrCodeInvalidResponse,
		ErrorDescription: fmt.Sprintf("native auth endpoint %s returned non-JSON (HTTP %d): %s",
			endpoint, status, ioutil.Truncate(string(body), DiagnosticLimit)),
	}
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return true
		}
	}
	return false
}

// post sends one form-encoded request. Only transport failures are errors;
// every HTTP status is handed back with its body.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "nativeauth "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("nativeauth.endpoint", endpoint)),
	)
	defer span.End()

	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.IdPCall(endpoint, outcome, time.Since(start))
	}()

	target, err := urlutil.JoinPath(c.cfg.baseURL, endpoint)
	if err != nil {
		span.SetStatus(codes.Error, "bad endpoint url")
		return 0, nil, fmt.Errorf("building %s url: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		span.SetStatus(codes.Error, "request construction failed")
		return 0, nil, fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log.LogTraceWithFields("nativeauth", "Calling native auth endpoint", map[string]any{
		"endpoint":     endpoint,
		"continuation": log.Fingerprint(form.Get("continuation_token")),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		log.LogWarnWithFields("nativeauth", "Native auth request failed", map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return 0, nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadBody(resp.Body, ioutil.MaxBodySize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "body read failure")
		return resp.StatusCode, nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		outcome = "http_error"
	} else {
		outcome = "ok"
	}
	return resp.StatusCode, body, nil
}
