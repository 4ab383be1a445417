package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records BFF activity. A nil *Metrics is valid and records nothing,
// so components can be constructed without a registry in tests.
type Metrics struct {
	idpCalls        *prometheus.CounterVec
	idpCallDuration *prometheus.HistogramVec
	signupSteps     *prometheus.CounterVec
	injections      *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New registers the BFF collectors with reg. reg is usually a fresh
// prometheus.NewRegistry(); pass prometheus.DefaultRegisterer to share the
// process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		idpCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bff_idp_calls_total",
			Help: "Calls to identity provider endpoints by outcome",
		}, []string{"endpoint", "outcome"}),
		idpCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bff_idp_call_duration_seconds",
			Help:    "Latency of identity provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		signupSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bff_signup_steps_total",
			Help: "Native sign-up transitions by requested operation and result",
		}, []string{"operation", "result"}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bff_credential_injections_total",
			Help: "Outbound API requests by credential source",
		}, []string{"source"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bff_sessions_created_total",
			Help: "Sessions installed by origin",
		}, []string{"origin"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bff_sessions_purged_total",
			Help: "Expired sessions removed by the background sweeper",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bff_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bff_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.idpCalls,
		m.idpCallDuration,
		m.signupSteps,
		m.injections,
		m.sessionsCreated,
		m.sessionsPurged,
		m.httpRequests,
		m.httpDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// IdPCall records one call to a native-auth or token endpoint
func (m *Metrics) IdPCall(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.idpCalls.WithLabelValues(endpoint, outcome).Inc()
	m.idpCallDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SignupStep records the result of a sign-up controller operation. result is
// the step reached or the error code returned.
func (m *Metrics) SignupStep(operation, result string) {
	if m == nil {
		return
	}
	m.signupSteps.WithLabelValues(operation, result).Inc()
}

// CredentialInjection records which token source served a proxied request
func (m *Metrics) CredentialInjection(source string) {
	if m == nil {
		return
	}
	m.injections.WithLabelValues(source).Inc()
}

// SessionCreated records a newly installed session
func (m *Metrics) SessionCreated(origin string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(origin).Inc()
}

// SessionsPurged records documents removed by the expiry sweeper
func (m *Metrics) SessionsPurged(n int) {
	if m == nil {
		return
	}
	m.sessionsPurged.Add(float64(n))
}

// HTTPRequest records a served request
func (m *Metrics) HTTPRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
