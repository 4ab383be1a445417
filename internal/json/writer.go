package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/bff-front/internal/log"
)

// ErrorResponse is the error body returned by every BFF endpoint. A missing
// description is serialised as null so the SPA can rely on the key existing.
type ErrorResponse struct {
	Error       string  `json:"error"`
	Description *string `json:"description"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteErrorDescription writes an error body with an optional description
func WriteErrorDescription(w http.ResponseWriter, statusCode int, code string, description *string) {
	if err := WriteResponse(w, statusCode, ErrorResponse{Error: code, Description: description}); err != nil {
		http.Error(w, code, statusCode)
	}
}

// WriteError writes an error body; an empty description becomes null
func WriteError(w http.ResponseWriter, statusCode int, code string, description string) {
	var desc *string
	if description != "" {
		desc = &description
	}
	WriteErrorDescription(w, statusCode, code, desc)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_server_error", message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, "bad_gateway", message)
}
