package signup

import (
	"net/http"

	"github.com/dgellow/bff-front/internal/nativeauth"
)

// Codes produced by the controller itself rather than the tenant
const (
	CodeEmailRequired       = "email_required"
	CodeInvalidRequest      = "invalid_request"
	CodeRedirectRequired    = "redirect_required"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeUnreachable         = "native_auth_unreachable"
	CodeCredentialRequired  = "credential_required"
)

// Provider codes with a dedicated mapping
const (
	CodeUserAlreadyExists = "user_already_exists"
	CodeInvalidOOBValue   = "invalid_oob_value"
	CodeExpiredToken      = "expired_token"
	CodePasswordTooWeak   = "password_too_weak"
)

const (
	descInvalidCode   = "Invalid verification code."
	descExpired       = "Code expired, please start again."
	descWeakPassword  = "Password does not meet complexity requirements."
	descAccountExists = "An account with this email already exists."
	descRedirect      = "This account must sign in through the browser."
	descUnreachable   = "The identity provider could not be reached."

	descExchangeUnreachable = "The token endpoint could not be reached."
)

var passwordPolicyCodes = map[string]bool{
	CodePasswordTooWeak:      true,
	"password_too_short":     true,
	"password_too_long":      true,
	"password_recently_used": true,
	"password_banned":        true,
	"password_is_invalid":    true,
}

// metricCodes are the failure codes recorded verbatim as metric labels.
// Anything else the tenant sends is counted as "other".
var metricCodes = map[string]bool{
	CodeEmailRequired:                 true,
	CodeInvalidRequest:                true,
	CodeRedirectRequired:              true,
	CodeTokenExchangeFailed:           true,
	CodeUnreachable:                   true,
	CodeCredentialRequired:            true,
	CodeUserAlreadyExists:             true,
	CodeInvalidOOBValue:               true,
	CodeExpiredToken:                  true,
	"invalid_grant":                   true,
	"attributes_required":             true,
	"unsupported_challenge_type":      true,
	nativeauth.ErrCodeUnavailable:     true,
	nativeauth.ErrCodeInvalidResponse: true,
	nativeauth.ErrCodeNullResponse:    true,
}

const metricOther = "other"

func metricResult(code string) string {
	if metricCodes[code] || passwordPolicyCodes[code] {
		return code
	}
	return metricOther
}

// missingContinuation stands in for a success step that carried no
// continuation token to resume from
func missingContinuation() nativeauth.StepResult {
	return nativeauth.StepResult{
		Error:            nativeauth.ErrCodeNullResponse,
		ErrorDescription: "The identity provider did not return a continuation token.",
	}
}

// Failure is a step that did not advance. Status is the HTTP status the SPA
// receives; Description is rendered as JSON null when nil.
type Failure struct {
	Code        string
	Description *string
	Status      int
	Fatal       bool
}

func (f *Failure) Error() string {
	if f.Description != nil {
		return f.Code + ": " + *f.Description
	}
	return f.Code
}

func describe(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func badRequest(code string, desc *string) *Failure {
	return &Failure{Code: code, Description: desc, Status: http.StatusBadRequest}
}

// mapStepFailure translates a failed step into the SPA-facing failure. The
// suberror wins over the generic error when the tenant sends both.
func mapStepFailure(r nativeauth.StepResult) *Failure {
	code := r.Code()
	providerDesc := describe(r.ErrorDescription)

	switch {
	case code == CodeUserAlreadyExists:
		desc := descAccountExists
		return &Failure{Code: code, Description: &desc, Status: http.StatusConflict}
	case code == CodeInvalidOOBValue:
		return badRequest(code, describe(descInvalidCode))
	case code == CodeExpiredToken:
		return badRequest(code, describe(descExpired))
	case passwordPolicyCodes[code]:
		if providerDesc == nil {
			providerDesc = describe(descWeakPassword)
		}
		return badRequest(code, providerDesc)
	default:
		return badRequest(code, providerDesc)
	}
}
