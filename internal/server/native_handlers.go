package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgellow/bff-front/internal/ioutil"
	jsonwriter "github.com/dgellow/bff-front/internal/json"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/session"
	"github.com/dgellow/bff-front/internal/signup"
)

const maxSignupBody = 16 << 10

// SessionInstaller persists a session and hands the browser its cookie
type SessionInstaller interface {
	Install(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// NativeSignupHandlers exposes the sign-up controller to the SPA as JSON
type NativeSignupHandlers struct {
	controller *signup.Controller
	sessions   SessionInstaller
}

// NewNativeSignupHandlers creates the native sign-up handlers
func NewNativeSignupHandlers(controller *signup.Controller, sessions SessionInstaller) *NativeSignupHandlers {
	return &NativeSignupHandlers{
		controller: controller,
		sessions:   sessions,
	}
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	ContinuationToken string `json:"continuationToken"`
	OTP               string `json:"otp"`
}

type completeRequest struct {
	ContinuationToken string `json:"continuationToken"`
	Password          string `json:"password"`
}

// StepResponse is what the SPA receives after each step
type StepResponse struct {
	Step              string `json:"step"`
	ContinuationToken string `json:"continuationToken,omitempty"`
	CodeLength        int    `json:"codeLength,omitempty"`
	MaskedEmail       string `json:"maskedEmail,omitempty"`
}

// Register mounts the sign-up routes on mux under prefix
func (h *NativeSignupHandlers) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/start", h.StartHandler)
	mux.HandleFunc("POST "+prefix+"/resend", h.ResendHandler)
	mux.HandleFunc("POST "+prefix+"/verify", h.VerifyHandler)
	mux.HandleFunc("POST "+prefix+"/verify-otp", h.VerifyHandler)
	mux.HandleFunc("POST "+prefix+"/complete", h.CompleteHandler)
	mux.HandleFunc("POST "+prefix+"/cancel", h.CancelHandler)
}

// StartHandler begins a sign-up and triggers the OTP email
func (h *NativeSignupHandlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeSignupRequest(w, r, &req) {
		return
	}
	out, err := h.controller.Start(r.Context(), req.Email)
	h.writeOutcome(w, r, out, err)
}

// ResendHandler restarts the attempt so a new code is sent
func (h *NativeSignupHandlers) ResendHandler(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeSignupRequest(w, r, &req) {
		return
	}
	out, err := h.controller.Resend(r.Context(), req.Email)
	h.writeOutcome(w, r, out, err)
}

// VerifyHandler submits the one-time code
func (h *NativeSignupHandlers) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeSignupRequest(w, r, &req) {
		return
	}
	out, err := h.controller.VerifyOTP(r.Context(), req.ContinuationToken, req.OTP)
	h.writeOutcome(w, r, out, err)
}

// CompleteHandler sets the password, signs the user in and sets the cookie
func (h *NativeSignupHandlers) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeSignupRequest(w, r, &req) {
		return
	}
	out, err := h.controller.Complete(r.Context(), req.ContinuationToken, req.Password)
	if err == nil && !out.Failed() && out.Session != nil {
		if err := h.sessions.Install(r.Context(), w, out.Session); err != nil {
			log.LogErrorWithFields("signup", "Failed to install session", map[string]any{
				"subject": out.Session.Subject,
				"error":   err.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "Failed to create session")
			return
		}
	}
	h.writeOutcome(w, r, out, err)
}

// CancelHandler acknowledges an abandoned attempt
func (h *NativeSignupHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	h.writeOutcome(w, r, h.controller.Abandon(), nil)
}

func (h *NativeSignupHandlers) writeOutcome(w http.ResponseWriter, r *http.Request, out signup.Outcome, err error) {
	if err != nil {
		// The client went away; nobody is listening for the response
		if errors.Is(err, context.Canceled) {
			log.LogDebugWithFields("signup", "Request cancelled", map[string]any{"path": r.URL.Path})
			return
		}
		log.LogErrorWithFields("signup", "Sign-up step failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Sign-up failed")
		return
	}
	if out.Failed() {
		jsonwriter.WriteErrorDescription(w, out.Failure.Status, out.Failure.Code, out.Failure.Description)
		return
	}
	_ = jsonwriter.Write(w, StepResponse{
		Step:              out.Step,
		ContinuationToken: out.ContinuationToken,
		CodeLength:        out.CodeLength,
		MaskedEmail:       out.MaskedEmail,
	})
}

// decodeSignupRequest reads a small JSON body. An empty body decodes to the
// zero value so the controller reports the missing fields itself.
func decodeSignupRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := ioutil.ReadBody(r.Body, maxSignupBody)
	if err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, signup.CodeInvalidRequest, "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, signup.CodeInvalidRequest, "Malformed JSON body")
		return false
	}
	return true
}
