package nativeauth

import (
	"fmt"
)

// Error codes synthesised by the client when a step response cannot be
// interpreted. Provider-issued codes pass through untouched.
const (
	ErrCodeUnavailable     = "native_auth_unavailable"
	ErrCodeInvalidResponse = "invalid_response"
	ErrCodeNullResponse    = "null_response"
)

// DefaultCodeLength is assumed when the challenge response omits code_length
const DefaultCodeLength = 8

// ChallengeTypeRedirect means the tenant refuses native auth for this request
// and wants the browser-redirect flow instead.
const ChallengeTypeRedirect = "redirect"

// DiagnosticLimit caps provider bodies quoted in errors and descriptions
const DiagnosticLimit = 300

// StepResult is the interpreted response of one signup endpoint call. Every
// field is optional; Failed reports whether the provider (or the client,
// for unreadable responses) flagged an error.
type StepResult struct {
	ContinuationToken string `json:"continuation_token,omitempty"`
	ChallengeType     string `json:"challenge_type,omitempty"`
	CodeLength        *int   `json:"code_length,omitempty"`
	MaskedEmail       string `json:"challenge_target_label,omitempty"`
	Error             string `json:"error,omitempty"`
	Suberror          string `json:"suberror,omitempty"`
	ErrorDescription  string `json:"error_description,omitempty"`
}

// Failed reports whether the step carries an error
func (r StepResult) Failed() bool {
	return r.Error != ""
}

// Code is the most specific error code: the suberror when present (Entra
// reports password policy and OTP failures as invalid_grant + suberror),
// otherwise the error.
func (r StepResult) Code() string {
	if r.Suberror != "" {
		return r.Suberror
	}
	return r.Error
}

// CodeLengthOrDefault returns the OTP length to show the user
func (r StepResult) CodeLengthOrDefault() int {
	if r.CodeLength == nil || *r.CodeLength <= 0 {
		return DefaultCodeLength
	}
	return *r.CodeLength
}

// TokenResult holds the tokens issued for a completed sign-up. It only
// exists when the provider reported success with every token present.
type TokenResult struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int
}

// TokenExchangeKind classifies token exchange failures
type TokenExchangeKind string

const (
	KindEmptyBody          TokenExchangeKind = "empty_body"
	KindMalformedJSON      TokenExchangeKind = "malformed_json"
	KindProviderError      TokenExchangeKind = "provider_error"
	KindIncompleteResponse TokenExchangeKind = "incomplete_response"
)

// TokenExchangeError is returned by ExchangeTokens when no usable tokens were
// issued. Detail never exceeds DiagnosticLimit characters.
type TokenExchangeError struct {
	Kind   TokenExchangeKind
	Status int
	Code   string
	Detail string
}

func (e *TokenExchangeError) Error() string {
	switch e.Kind {
	case KindEmptyBody:
		return fmt.Sprintf("token endpoint returned an empty body (status %d)", e.Status)
	case KindMalformedJSON:
		return fmt.Sprintf("token endpoint returned malformed JSON (status %d): %s", e.Status, e.Detail)
	case KindProviderError:
		return fmt.Sprintf("token endpoint error %s: %s", e.Code, e.Detail)
	default:
		return fmt.Sprintf("token endpoint response incomplete: %s", e.Detail)
	}
}

// Description is the text surfaced to the SPA
func (e *TokenExchangeError) Description() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error()
}
