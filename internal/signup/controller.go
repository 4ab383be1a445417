// Package signup drives the native-auth email + OTP + password sign-up. The
// controller keeps nothing between calls: the continuation token issued by
// the tenant travels through the SPA and comes back on the next step.
package signup

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/metrics"
	"github.com/dgellow/bff-front/internal/nativeauth"
	"github.com/dgellow/bff-front/internal/session"
)

// Step names as seen by the SPA
const (
	StepEmailEntry       = "email-entry"
	StepOTPRequired      = "otp-required"
	StepPasswordRequired = "password-required"
	StepComplete         = "complete"
	StepAbandoned        = "abandoned"
)

// StepClient is the subset of the native-auth client the controller needs
type StepClient interface {
	StartSignUp(ctx context.Context, email string) (nativeauth.StepResult, error)
	RequestOTPChallenge(ctx context.Context, continuationToken string) (nativeauth.StepResult, error)
	SubmitOTP(ctx context.Context, continuationToken, code string) (nativeauth.StepResult, error)
	SubmitPassword(ctx context.Context, continuationToken, password string) (nativeauth.StepResult, error)
	ExchangeTokens(ctx context.Context, continuationToken string) (*nativeauth.TokenResult, error)
}

// SessionBuilder turns the issued tokens into a session
type SessionBuilder interface {
	Build(origin session.Origin, g session.Grant) (*session.Session, error)
}

// Outcome is the result of one controller operation. Exactly one of the
// success fields or Failure is meaningful.
type Outcome struct {
	Step              string
	ContinuationToken string
	CodeLength        int
	MaskedEmail       string
	Session           *session.Session
	Failure           *Failure
}

// Failed reports whether the operation did not advance
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// Controller orchestrates sign-up steps
type Controller struct {
	client   StepClient
	sessions SessionBuilder
	metrics  *metrics.Metrics
}

// NewController creates a controller. m may be nil.
func NewController(client StepClient, sessions SessionBuilder, m *metrics.Metrics) *Controller {
	return &Controller{
		client:   client,
		sessions: sessions,
		metrics:  m,
	}
}

// Start submits the email and immediately requests the OTP challenge so the
// tenant sends the code.
func (c *Controller) Start(ctx context.Context, email string) (Outcome, error) {
	return c.start(ctx, "start", email)
}

// Resend starts a fresh attempt for the same email. The previous
// continuation token is abandoned and will be rejected as expired.
func (c *Controller) Resend(ctx context.Context, email string) (Outcome, error) {
	return c.start(ctx, "resend", email)
}

func (c *Controller) start(ctx context.Context, op, email string) (Outcome, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return c.fail(op, badRequest(CodeEmailRequired, nil)), nil
	}

	init, err := c.client.StartSignUp(ctx, email)
	if err != nil {
		return c.transportFailure(op, err)
	}
	if out, done := c.checkStep(op, init); done {
		return out, nil
	}

	challenge, err := c.client.RequestOTPChallenge(ctx, init.ContinuationToken)
	if err != nil {
		return c.transportFailure(op, err)
	}
	if out, done := c.checkStep(op, challenge); done {
		return out, nil
	}

	log.LogDebugWithFields("signup", "OTP challenge issued", map[string]any{
		"operation":    op,
		"continuation": log.Fingerprint(challenge.ContinuationToken),
	})
	return c.advance(op, Outcome{
		Step:              StepOTPRequired,
		ContinuationToken: challenge.ContinuationToken,
		CodeLength:        challenge.CodeLengthOrDefault(),
		MaskedEmail:       challenge.MaskedEmail,
	}), nil
}

// checkStep turns a failed, redirect or unresumable step into a terminal
// outcome
func (c *Controller) checkStep(op string, r nativeauth.StepResult) (Outcome, bool) {
	if r.Failed() {
		return c.fail(op, mapStepFailure(r)), true
	}
	if r.ChallengeType == nativeauth.ChallengeTypeRedirect {
		return c.fail(op, badRequest(CodeRedirectRequired, describe(descRedirect))), true
	}
	if r.ContinuationToken == "" {
		return c.fail(op, mapStepFailure(missingContinuation())), true
	}
	return Outcome{}, false
}

// VerifyOTP submits the emailed code. The tenant reports a correct code as
// the error credential_required with a fresh continuation token, which
// means "now send the password".
func (c *Controller) VerifyOTP(ctx context.Context, continuationToken, otp string) (Outcome, error) {
	const op = "verify"
	if strings.TrimSpace(continuationToken) == "" || strings.TrimSpace(otp) == "" {
		return c.fail(op, badRequest(CodeInvalidRequest, nil)), nil
	}

	r, err := c.client.SubmitOTP(ctx, continuationToken, strings.TrimSpace(otp))
	if err != nil {
		return c.transportFailure(op, err)
	}

	if r.Error == CodeCredentialRequired && r.ContinuationToken != "" {
		return c.advance(op, Outcome{Step: StepPasswordRequired, ContinuationToken: r.ContinuationToken}), nil
	}
	if r.Failed() {
		return c.fail(op, mapStepFailure(r)), nil
	}
	if r.ContinuationToken == "" {
		return c.fail(op, mapStepFailure(missingContinuation())), nil
	}
	return c.advance(op, Outcome{Step: StepPasswordRequired, ContinuationToken: r.ContinuationToken}), nil
}

// Complete sets the password, redeems the final continuation token and
// builds a native session. Every token exchange problem other than the
// caller going away is fatal: the attempt cannot be resumed.
func (c *Controller) Complete(ctx context.Context, continuationToken, password string) (Outcome, error) {
	const op = "complete"
	if strings.TrimSpace(continuationToken) == "" || strings.TrimSpace(password) == "" {
		return c.fail(op, badRequest(CodeInvalidRequest, nil)), nil
	}

	r, err := c.client.SubmitPassword(ctx, continuationToken, password)
	if err != nil {
		return c.transportFailure(op, err)
	}
	if r.Failed() {
		return c.fail(op, mapStepFailure(r)), nil
	}
	if r.ContinuationToken == "" {
		return c.fatal(op, "password accepted but no continuation token was issued", nil), nil
	}

	tokens, err := c.client.ExchangeTokens(ctx, r.ContinuationToken)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{}, err
		}
		var exErr *nativeauth.TokenExchangeError
		if errors.As(err, &exErr) {
			return c.fatal(op, exErr.Description(), exErr), nil
		}
		return c.fatal(op, descExchangeUnreachable, err), nil
	}

	s, err := c.sessions.Build(session.OriginNative, session.Grant{
		AccessToken:  tokens.AccessToken,
		IDToken:      tokens.IDToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
	if err != nil {
		return c.fatal(op, "the issued id token could not be read", err), nil
	}

	log.LogInfoWithFields("signup", "Sign-up completed", map[string]any{
		"subject": s.Subject,
	})
	return c.advance(op, Outcome{Step: StepComplete, Session: s}), nil
}

// Abandon acknowledges a cancelled attempt. Nothing is held server-side, so
// there is nothing to clean up.
func (c *Controller) Abandon() Outcome {
	return c.advance("cancel", Outcome{Step: StepAbandoned})
}

func (c *Controller) advance(op string, out Outcome) Outcome {
	c.metrics.SignupStep(op, out.Step)
	return out
}

func (c *Controller) fail(op string, f *Failure) Outcome {
	c.metrics.SignupStep(op, metricResult(f.Code))
	log.LogDebugWithFields("signup", "Step failed", map[string]any{
		"operation": op,
		"code":      f.Code,
		"status":    f.Status,
	})
	return Outcome{Failure: f}
}

func (c *Controller) fatal(op, description string, cause error) Outcome {
	fields := map[string]any{
		"operation":   op,
		"description": description,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	log.LogErrorWithFields("signup", "Token exchange failed", fields)

	f := &Failure{
		Code:        CodeTokenExchangeFailed,
		Description: describe(description),
		Status:      http.StatusInternalServerError,
		Fatal:       true,
	}
	c.metrics.SignupStep(op, f.Code)
	return Outcome{Failure: f}
}

// transportFailure reports an unreachable tenant. Cancellation by the caller
// is returned as an error so the handler can drop the response.
func (c *Controller) transportFailure(op string, err error) (Outcome, error) {
	if errors.Is(err, context.Canceled) {
		return Outcome{}, err
	}
	log.LogWarnWithFields("signup", "Native auth unreachable", map[string]any{
		"operation": op,
		"error":     err.Error(),
	})
	f := &Failure{
		Code:        CodeUnreachable,
		Description: describe(descUnreachable),
		Status:      http.StatusBadGateway,
	}
	c.metrics.SignupStep(op, f.Code)
	return Outcome{Failure: f}, nil
}
