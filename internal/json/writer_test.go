package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorShape(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		code        string
		description string
		wantDesc    any
	}{
		{
			name:        "with description",
			status:      http.StatusConflict,
			code:        "user_already_exists",
			description: "An account with this email already exists.",
			wantDesc:    "An account with this email already exists.",
		},
		{
			name:     "description null when empty",
			status:   http.StatusBadRequest,
			code:     "invalid_grant",
			wantDesc: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.status, tt.code, tt.description)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
			desc, present := body["description"]
			assert.True(t, present, "description key must always be present")
			assert.Equal(t, tt.wantDesc, desc)
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no session") }, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "path") }, http.StatusForbidden, "forbidden"},
		{"bad gateway", func(w http.ResponseWriter) { WriteBadGateway(w, "down") }, http.StatusBadGateway, "bad_gateway"},
		{"internal", func(w http.ResponseWriter) { WriteInternalServerError(w, "x") }, http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, Write(w, map[string]string{"step": "complete"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"complete"}`, w.Body.String())
}
