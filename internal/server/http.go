package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/bff-front/internal/json"
	"github.com/dgellow/bff-front/internal/log"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// HTTPServer owns the listening socket for the BFF
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer has no write timeout because proxied downstream responses
// are bounded by the proxy's own timeout
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
}

// HealthInfo is reported verbatim by the health endpoint
type HealthInfo struct {
	Version string `json:"version,omitempty"`
	Storage string `json:"storage,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	HealthInfo
}

// HealthHandler answers liveness probes
type HealthHandler struct {
	body healthResponse
}

func NewHealthHandler(info HealthInfo) *HealthHandler {
	return &HealthHandler{body: healthResponse{Status: "ok", HealthInfo: info}}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, h.body)
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "Listening", map[string]any{
		"addr": h.server.Addr,
	})

	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests until ctx expires
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "Draining connections", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.Shutdown(ctx); err != nil {
		return err
	}

	log.LogInfoWithFields("http", "Listener closed", map[string]any{
		"addr": h.server.Addr,
	})
	return nil
}
