// Package metrics implements C14: Prometheus instrumentation for a running
// skdp-server process, adapted from this repo's metrics package but scoped
// to handshake, record-layer, keep-alive, and replay-guard counters instead
// of chat delivery counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Handshake metrics
	HandshakeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_handshake_attempts_total",
			Help: "Total number of KEX handshake attempts by cipher suite",
		},
		[]string{"suite"},
	)

	HandshakeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_handshake_results_total",
			Help: "Total number of completed KEX handshakes by suite and outcome",
		},
		[]string{"suite", "result"}, // result: established, failed
	)

	HandshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skdp_handshake_duration_seconds",
			Help:    "Time from Connect to Established for a KEX handshake",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"suite"},
	)

	// Record layer metrics
	RecordMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_record_messages_total",
			Help: "Total number of record-layer messages by direction",
		},
		[]string{"direction"}, // sent, received
	)

	RecordBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_record_bytes_total",
			Help: "Total number of record-layer plaintext bytes by direction",
		},
		[]string{"direction"},
	)

	RecordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_record_errors_total",
			Help: "Total number of record-layer errors by cause",
		},
		[]string{"cause"}, // receive
	)

	// Anti-replay metrics
	ReplayRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_replay_rejections_total",
			Help: "Total number of sequence numbers rejected by the replay guard",
		},
		[]string{"backend"}, // memory, redis
	)

	// Keep-alive and ratchet metrics
	KeepAliveProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_keepalive_probes_total",
			Help: "Total number of keep-alive probes by outcome",
		},
		[]string{"result"}, // ok, timeout, mismatch
	)

	RatchetOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_ratchet_operations_total",
			Help: "Total number of session key ratchet operations by outcome",
		},
		[]string{"result"}, // ok, failed
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skdp_active_sessions",
			Help: "Current number of sessions in the Established or KeepAlive phase",
		},
	)

	// Key hierarchy metrics
	KeyDerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_key_derivations_total",
			Help: "Total number of key hierarchy derivations by level",
		},
		[]string{"level"}, // server, device
	)

	KeyExpirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skdp_key_expirations_total",
			Help: "Total number of presented keys rejected for being past expiration",
		},
	)

	// Admin API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_http_requests_total",
			Help: "Total number of admin API HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skdp_http_request_duration_seconds",
			Help:    "Admin API HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skdp_rate_limit_hits_total",
			Help: "Total number of rate limit hits by source",
		},
		[]string{"source"}, // the limited key (KID hex or remote address)
	)
)

// MetricsMiddleware wraps admin API handlers with request counters and
// latency histograms.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHandshakeAttempt records the start of a KEX handshake.
func RecordHandshakeAttempt(suite string) {
	HandshakeAttemptsTotal.WithLabelValues(suite).Inc()
}

// RecordHandshakeResult records a handshake's terminal outcome and its
// duration from Connect.
func RecordHandshakeResult(suite string, established bool, duration time.Duration) {
	result := "failed"
	if established {
		result = "established"
	}
	HandshakeResultsTotal.WithLabelValues(suite, result).Inc()
	HandshakeDuration.WithLabelValues(suite).Observe(duration.Seconds())
}

// RecordMessage records one record-layer message transfer.
func RecordMessage(direction string, plaintextLen int) {
	RecordMessagesTotal.WithLabelValues(direction).Inc()
	RecordBytesTotal.WithLabelValues(direction).Add(float64(plaintextLen))
}

// RecordError records a record-layer failure by cause.
func RecordError(cause string) {
	RecordErrorsTotal.WithLabelValues(cause).Inc()
}

// RecordReplayRejection records a sequence number rejected by the replay
// guard.
func RecordReplayRejection(backend string) {
	ReplayRejectionsTotal.WithLabelValues(backend).Inc()
}

// RecordKeepAliveProbe records the outcome of one keep-alive probe.
func RecordKeepAliveProbe(result string) {
	KeepAliveProbesTotal.WithLabelValues(result).Inc()
}

// RecordRatchetOperation records the outcome of one session key ratchet.
func RecordRatchetOperation(result string) {
	RatchetOperationsTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions updates the current established-session gauge.
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// RecordKeyDerivation records one level of key hierarchy derivation.
func RecordKeyDerivation(level string) {
	KeyDerivationsTotal.WithLabelValues(level).Inc()
}

// RecordKeyExpiration records a presented key rejected as expired.
func RecordKeyExpiration() {
	KeyExpirationsTotal.Inc()
}

// RecordRateLimitHit records a request denied by the rate limiter.
func RecordRateLimitHit(source string) {
	RateLimitHits.WithLabelValues(source).Inc()
}
