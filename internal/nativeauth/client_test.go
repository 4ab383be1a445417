package nativeauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/bff-front/internal/metrics"
)

type recordedRequest struct {
	path string
	form url.Values
}

type fakeTenant struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (f *fakeTenant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{path: r.URL.Path, form: r.PostForm})
		status, body := f.status, f.body
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeTenant) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, tenant *fakeTenant, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(tenant.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:  srv.URL + "/contoso.onmicrosoft.com",
		ClientID: "shared-client",
		APIScope: "api://bff/access_as_user",
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("prefers native auth client id", func(t *testing.T) {
		c, err := NewClient(Config{BaseURL: "https://t.ciamlogin.com/t.onmicrosoft.com", PublicClientID: "public", ClientID: "shared"})
		require.NoError(t, err)
		assert.Equal(t, "public", c.ClientID())
	})

	t.Run("falls back to shared client id", func(t *testing.T) {
		c, err := NewClient(Config{BaseURL: "https://t.ciamlogin.com/t.onmicrosoft.com", ClientID: "shared"})
		require.NoError(t, err)
		assert.Equal(t, "shared", c.ClientID())
	})

	t.Run("missing client id", func(t *testing.T) {
		_, err := NewClient(Config{BaseURL: "https://t.ciamlogin.com/t.onmicrosoft.com"})
		assert.Error(t, err)
	})

	t.Run("missing base url", func(t *testing.T) {
		_, err := NewClient(Config{ClientID: "shared"})
		assert.Error(t, err)
	})

	t.Run("relative base url", func(t *testing.T) {
		_, err := NewClient(Config{BaseURL: "t.onmicrosoft.com", ClientID: "shared"})
		assert.Error(t, err)
	})
}

func TestBuildScope(t *testing.T) {
	tests := []struct {
		apiScope string
		want     string
	}{
		{"", "openid profile offline_access"},
		{"api://bff/access_as_user", "openid profile offline_access api://bff/access_as_user"},
		{"openid api://x/y  offline_access api://x/y", "openid profile offline_access api://x/y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildScope(tt.apiScope), "apiScope=%q", tt.apiScope)
	}
}

func TestStepRequestShapes(t *testing.T) {
	tenant := &fakeTenant{body: `{"continuation_token":"ct-next","challenge_type":"oob"}`}
	c := newTestClient(t, tenant)
	ctx := context.Background()

	_, err := c.StartSignUp(ctx, "ada@example.com")
	require.NoError(t, err)
	req := tenant.last()
	assert.Equal(t, "/contoso.onmicrosoft.com/signup/v1.0/start", req.path)
	assert.Equal(t, "shared-client", req.form.Get("client_id"))
	assert.Equal(t, "oob password redirect", req.form.Get("challenge_type"))
	assert.Equal(t, "ada@example.com", req.form.Get("username"))

	_, err = c.RequestOTPChallenge(ctx, "ct-1")
	require.NoError(t, err)
	req = tenant.last()
	assert.Equal(t, "/contoso.onmicrosoft.com/signup/v1.0/challenge", req.path)
	assert.Equal(t, "oob", req.form.Get("challenge_type"))
	assert.Equal(t, "ct-1", req.form.Get("continuation_token"))

	_, err = c.SubmitOTP(ctx, "ct-2", "12345678")
	require.NoError(t, err)
	req = tenant.last()
	assert.Equal(t, "/contoso.onmicrosoft.com/signup/v1.0/continue", req.path)
	assert.Equal(t, "oob", req.form.Get("grant_type"))
	assert.Equal(t, "12345678", req.form.Get("oob"))
	assert.Equal(t, "ct-2", req.form.Get("continuation_token"))

	_, err = c.SubmitPassword(ctx, "ct-3", "S3cret!pass")
	require.NoError(t, err)
	req = tenant.last()
	assert.Equal(t, "/contoso.onmicrosoft.com/signup/v1.0/continue", req.path)
	assert.Equal(t, "password", req.form.Get("grant_type"))
	assert.Equal(t, "S3cret!pass", req.form.Get("password"))
}

func TestStepResponseInterpretation(t *testing.T) {
	longBody := strings.Repeat("x", 500)

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, r StepResult)
	}{
		{
			name: "challenge success",
			body: `{"continuation_token":"ct","challenge_type":"oob","code_length":6,"challenge_target_label":"a***@example.com"}`,
			check: func(t *testing.T, r StepResult) {
				assert.False(t, r.Failed())
				assert.Equal(t, "ct", r.ContinuationToken)
				assert.Equal(t, 6, r.CodeLengthOrDefault())
				assert.Equal(t, "a***@example.com", r.MaskedEmail)
			},
		},
		{
			name: "missing code length defaults to 8",
			body: `{"continuation_token":"ct","challenge_type":"oob"}`,
			check: func(t *testing.T, r StepResult) {
				assert.Nil(t, r.CodeLength)
				assert.Equal(t, 8, r.CodeLengthOrDefault())
			},
		},
		{
			name:   "provider error passes through",
			status: http.StatusBadRequest,
			body:   `{"error":"user_already_exists","error_description":"AADSTS1003037: exists"}`,
			check: func(t *testing.T, r StepResult) {
				assert.True(t, r.Failed())
				assert.Equal(t, "user_already_exists", r.Code())
				assert.Equal(t, "AADSTS1003037: exists", r.ErrorDescription)
			},
		},
		{
			name:   "suberror preferred",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_grant","suberror":"password_too_weak","error_description":"weak"}`,
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, "invalid_grant", r.Error)
				assert.Equal(t, "password_too_weak", r.Code())
			},
		},
		{
			name:   "empty body",
			status: http.StatusNotFound,
			body:   "  \n",
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeUnavailable, r.Error)
				assert.Contains(t, r.ErrorDescription, "404")
				assert.Contains(t, r.ErrorDescription, EndpointStart)
			},
		},
		{
			name:   "html body",
			status: http.StatusBadGateway,
			body:   "<html>" + longBody + "</html>",
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeInvalidResponse, r.Error)
				assert.Contains(t, r.ErrorDescription, "<html>")
				assert.NotContains(t, r.ErrorDescription, "</html>")
			},
		},
		{
			name: "json array",
			body: `[1,2]`,
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeInvalidResponse, r.Error)
			},
		},
		{
			name: "json null",
			body: `null`,
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeNullResponse, r.Error)
			},
		},
		{
			name: "challenge type without continuation token",
			body: `{"challenge_type":"oob","code_length":8}`,
			check: func(t *testing.T, r StepResult) {
				assert.True(t, r.Failed())
				assert.Equal(t, ErrCodeNullResponse, r.Error)
				assert.Contains(t, r.ErrorDescription, "continuation token")
			},
		},
		{
			name: "empty continuation token",
			body: `{"continuation_token":"","challenge_type":"password"}`,
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeNullResponse, r.Error)
			},
		},
		{
			name: "redirect needs no continuation token",
			body: `{"challenge_type":"redirect"}`,
			check: func(t *testing.T, r StepResult) {
				assert.False(t, r.Failed())
				assert.Equal(t, ChallengeTypeRedirect, r.ChallengeType)
			},
		},
		{
			name: "object without known fields",
			body: `{"trace_id":"abc"}`,
			check: func(t *testing.T, r StepResult) {
				assert.Equal(t, ErrCodeNullResponse, r.Error)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := &fakeTenant{status: tt.status, body: tt.body}
			c := newTestClient(t, tenant)
			r, err := c.StartSignUp(context.Background(), "ada@example.com")
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestTransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base, ClientID: "id", HTTPClient: &http.Client{Timeout: time.Second}})
	require.NoError(t, err)

	_, err = c.StartSignUp(context.Background(), "ada@example.com")
	assert.Error(t, err)

	_, err = c.ExchangeTokens(context.Background(), "ct")
	assert.Error(t, err)
	var exErr *TokenExchangeError
	assert.False(t, errors.As(err, &exErr))
}

func TestCancelledContext(t *testing.T) {
	tenant := &fakeTenant{body: `{"continuation_token":"ct"}`}
	c := newTestClient(t, tenant)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SubmitOTP(ctx, "ct", "1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExchangeTokens(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tenant := &fakeTenant{body: `{"access_token":"at","id_token":"it","refresh_token":"rt","expires_in":3600,"token_type":"Bearer"}`}
		c := newTestClient(t, tenant)

		tok, err := c.ExchangeTokens(context.Background(), "ct-final")
		require.NoError(t, err)
		assert.Equal(t, &TokenResult{AccessToken: "at", IDToken: "it", RefreshToken: "rt", ExpiresIn: 3600}, tok)

		req := tenant.last()
		assert.Equal(t, "/contoso.onmicrosoft.com/oauth2/v2.0/token", req.path)
		assert.Equal(t, "continuation_token", req.form.Get("grant_type"))
		assert.Equal(t, "ct-final", req.form.Get("continuation_token"))
		assert.Equal(t, "openid profile offline_access api://bff/access_as_user", req.form.Get("scope"))
	})

	failures := []struct {
		name   string
		status int
		body   string
		kind   TokenExchangeKind
		detail string
	}{
		{"empty body", http.StatusInternalServerError, "", KindEmptyBody, ""},
		{"malformed", http.StatusOK, "not json", KindMalformedJSON, "not json"},
		{"provider error with description", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"token expired"}`, KindProviderError, "token expired"},
		{"provider error without description", http.StatusBadRequest, `{"error":"invalid_grant"}`, KindProviderError, "invalid_grant"},
		{"missing refresh token", http.StatusOK, `{"access_token":"at","id_token":"it","expires_in":60}`, KindIncompleteResponse, "missing refresh_token"},
		{"null", http.StatusOK, `null`, KindIncompleteResponse, "token response was null"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			tenant := &fakeTenant{status: tt.status, body: tt.body}
			c := newTestClient(t, tenant)

			tok, err := c.ExchangeTokens(context.Background(), "ct")
			assert.Nil(t, tok)
			var exErr *TokenExchangeError
			require.True(t, errors.As(err, &exErr), "got %v", err)
			assert.Equal(t, tt.kind, exErr.Kind)
			assert.Equal(t, tt.detail, exErr.Detail)
			assert.NotEmpty(t, exErr.Description())
		})
	}

	t.Run("detail capped", func(t *testing.T) {
		tenant := &fakeTenant{body: strings.Repeat("z", 1000)}
		c := newTestClient(t, tenant)

		_, err := c.ExchangeTokens(context.Background(), "ct")
		var exErr *TokenExchangeError
		require.True(t, errors.As(err, &exErr))
		assert.Len(t, exErr.Detail, DiagnosticLimit)
	})
}

func TestClientRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tenant := &fakeTenant{body: `{"continuation_token":"ct"}`}
	c := newTestClient(t, tenant, WithMetrics(m))

	_, err := c.StartSignUp(context.Background(), "ada@example.com")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "bff_idp_calls_total" {
			found = true
		}
	}
	assert.True(t, found)
}
