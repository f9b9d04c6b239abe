package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Decision-engine metrics.
var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_decisions_total",
			Help: "Guard decisions by check and outcome.",
		},
		[]string{"check", "outcome"},
	)

	invariantDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_invariant_denials_total",
			Help: "Denials by violated invariant.",
		},
		[]string{"invariant"},
	)

	consentsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vault_consents_pending",
		Help: "Consent requests awaiting a decision.",
	})

	auditChainLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vault_audit_chain_length",
		Help: "Events on the audit chain.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		decisionsTotal, invariantDenials, consentsPending, auditChainLength,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision counts one guard decision. The invariant label is only
// meaningful on denials; pass the tag from the violation message.
func RecordDecision(check string, valid bool, invariant string) {
	outcome := "allow"
	if !valid {
		outcome = "deny"
		if invariant != "" {
			invariantDenials.WithLabelValues(invariant).Inc()
		}
	}
	decisionsTotal.WithLabelValues(check, outcome).Inc()
}

// SetConsentsPending updates the pending-consents gauge.
func SetConsentsPending(n int) {
	consentsPending.Set(float64(n))
}

// SetAuditChainLength updates the chain-length gauge.
func SetAuditChainLength(n int) {
	auditChainLength.Set(float64(n))
}

// CanonicalPath collapses id segments so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/<collection>/<id>[/<verb>] -> /v1/<collection>/:id[/<verb>]
	if len(parts) >= 4 && parts[1] == "v1" && parts[3] != "" {
		known := map[string]bool{"consents": true, "commitments": true, "ballots": true}
		if known[parts[2]] && (len(parts) == 4 || len(parts) == 5) {
			parts[3] = ":id"
			return strings.Join(parts, "/")
		}
	}
	return path
}

// Instrument wraps a handler with RPS, latency and in-flight tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
