// Package proxy forwards SPA API calls to downstream services with the
// signed-in user's credentials attached.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgellow/bff-front/internal/delegation"
	jsonwriter "github.com/dgellow/bff-front/internal/json"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/session"
	"github.com/dgellow/bff-front/internal/urlutil"
)

// DefaultTimeout bounds a single upstream round trip
const DefaultTimeout = 30 * time.Second

// Route maps a path prefix on the BFF to a downstream base URL
type Route struct {
	Prefix         string
	Target         string
	AllowedPaths   []string // nil means DefaultAllowedPaths
	RequireSession *bool    // nil means true
}

func (r Route) requiresSession() bool {
	return r.RequireSession == nil || *r.RequireSession
}

type compiledRoute struct {
	prefix         string
	target         *url.URL
	matcher        *PathMatcher
	requireSession bool
}

// HTTPProxy routes requests by longest matching prefix
type HTTPProxy struct {
	routes     []compiledRoute
	injector   *delegation.Injector
	httpClient *http.Client
}

// NewHTTPProxy validates routes and creates a proxy
func NewHTTPProxy(routes []Route, injector *delegation.Injector, timeout time.Duration) (*HTTPProxy, error) {
	if injector == nil {
		return nil, errors.New("credential injector is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	compiled := make([]compiledRoute, 0, len(routes))
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		prefix := normalizePrefix(r.Prefix)
		if seen[prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", prefix)
		}
		seen[prefix] = true

		target, err := urlutil.ParseAbsolute(r.Target)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", prefix, err)
		}
		allowed := r.AllowedPaths
		if allowed == nil {
			allowed = DefaultAllowedPaths
		}
		compiled = append(compiled, compiledRoute{
			prefix:         prefix,
			target:         target,
			matcher:        NewPathMatcher(allowed),
			requireSession: r.requiresSession(),
		})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].prefix) > len(compiled[j].prefix)
	})

	return &HTTPProxy{
		routes:   compiled,
		injector: injector,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Prefixes returns the configured prefixes, longest first
func (p *HTTPProxy) Prefixes() []string {
	out := make([]string, len(p.routes))
	for i, r := range p.routes {
		out[i] = r.prefix
	}
	return out
}

// normalizePrefix gives every prefix a leading and trailing slash so /api
// never captures /apix.
func normalizePrefix(prefix string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix != "/" {
		prefix += "/"
	}
	return prefix
}

func (p *HTTPProxy) match(requestPath string) (*compiledRoute, string, bool) {
	for i := range p.routes {
		r := &p.routes[i]
		bare := strings.TrimSuffix(r.prefix, "/")
		if requestPath == bare {
			return r, "/", true
		}
		if rest, ok := strings.CutPrefix(requestPath, r.prefix); ok {
			return r, "/" + rest, true
		}
	}
	return nil, "", false
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	route, targetPath, ok := p.match(r.URL.Path)
	if !ok {
		jsonwriter.WriteNotFound(w, "No downstream route")
		return
	}

	s, authenticated := session.FromContext(r.Context())
	if route.requireSession && !authenticated {
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}

	if !route.matcher.IsAllowed(targetPath) {
		log.LogWarnWithFields("proxy", "Path not allowed", map[string]any{
			"route": route.prefix,
			"path":  targetPath,
		})
		jsonwriter.WriteForbidden(w, "Path not allowed")
		return
	}

	status, source, err := p.forward(r.Context(), w, r, route, targetPath, s)
	if err != nil {
		log.LogErrorWithFields("proxy", "Proxy request failed", map[string]any{
			"error":  err.Error(),
			"route":  route.prefix,
			"path":   targetPath,
			"method": r.Method,
		})
		return
	}

	fields := map[string]any{
		"route":       route.prefix,
		"method":      r.Method,
		"path":        targetPath,
		"status":      status,
		"credentials": source,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if s != nil {
		fields["subject"] = s.Subject
	}
	log.LogDebugWithFields("proxy", "Request proxied", fields)
}

// forward sends the request upstream and streams the response back. Errors
// before the upstream answers are written as 502; errors while streaming
// are only logged since the status is already out.
func (p *HTTPProxy) forward(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	route *compiledRoute,
	targetPath string,
	s *session.Session,
) (int, string, error) {
	upstreamURL := *route.target
	upstreamURL.Path = strings.TrimSuffix(route.target.Path, "/") + targetPath
	upstreamURL.RawPath = ""
	upstreamURL.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL.String(), body)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to create upstream request")
		return 0, "", fmt.Errorf("creating upstream request: %w", err)
	}
	upstreamReq.ContentLength = r.ContentLength

	copyRequestHeaders(upstreamReq.Header, r.Header)
	upstreamReq.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		upstreamReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		upstreamReq.Header.Set("X-Forwarded-Proto", "http")
	}

	source := p.injector.Inject(ctx, upstreamReq, delegation.PrincipalFromSession(s))

	upstreamResp, err := p.httpClient.Do(upstreamReq)
	if err != nil {
		jsonwriter.WriteBadGateway(w, "Failed to reach downstream service")
		return 0, source, fmt.Errorf("upstream request failed: %w", err)
	}
	defer upstreamResp.Body.Close()

	copyResponseHeaders(w.Header(), upstreamResp.Header)
	w.WriteHeader(upstreamResp.StatusCode)

	if _, err := io.Copy(flushWriter{w}, upstreamResp.Body); err != nil {
		return upstreamResp.StatusCode, source, fmt.Errorf("copying response body: %w", err)
	}
	return upstreamResp.StatusCode, source, nil
}

// hopHeaders are never forwarded. Authorization is replaced by the
// injector; Cookie carries the BFF's own session.
var hopHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// transportHeaders belong to the upstream connection, not the response
var transportHeaders = map[string]bool{
	"connection":         true,
	"keep-alive":         true,
	"proxy-authenticate": true,
	"te":                 true,
	"trailer":            true,
	"transfer-encoding":  true,
	"upgrade":            true,
}

func copyRequestHeaders(dst, src http.Header) {
	// Connection may name additional per-hop headers
	connectionScoped := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			connectionScoped[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}

	for key, values := range src {
		lower := strings.ToLower(key)
		if hopHeaders[lower] || connectionScoped[lower] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if transportHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
