// Package metrics provides Prometheus metrics for the blobfm services.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobfm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Minter metrics
	mintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_mints_total",
			Help: "Capability mint requests by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_permission_checks_total",
			Help: "Total permission table checks",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobfm_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// Object store metrics
	storeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_store_requests_total",
			Help: "Object store requests by operation and status code",
		},
		[]string{"operation", "status"},
	)

	capabilityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_capability_rejections_total",
			Help: "Requests refused by capability verification",
		},
		[]string{"reason"},
	)

	blockCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_block_commits_total",
			Help: "Block list commits",
		},
		[]string{"status"},
	)

	committedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobfm_committed_bytes_total",
			Help: "Bytes materialized by block list commits",
		},
	)

	stagedBlocksSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobfm_staged_blocks_swept_total",
			Help: "Expired uncommitted blocks removed by the sweeper",
		},
	)

	// Backend metrics
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobfm_backend_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_backend_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobfm_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobfm_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMint records the outcome of a mint request.
func RecordMint(command, outcome string) {
	mintsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordPermissionCheck records a permission check result.
func RecordPermissionCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	permissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordStoreRequest records a served object store request.
func RecordStoreRequest(operation string, status int) {
	storeRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

// RecordCapabilityRejection records a refused capability.
func RecordCapabilityRejection(reason string) {
	capabilityRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordBlockCommit records a block list commit.
func RecordBlockCommit(bytes int64, success bool) {
	blockCommitsTotal.WithLabelValues(statusLabel(success)).Inc()
	if success {
		committedBytesTotal.Add(float64(bytes))
	}
}

// RecordStagedBlocksSwept records blocks removed by the sweeper.
func RecordStagedBlocksSwept(n int) {
	stagedBlocksSweptTotal.Add(float64(n))
}

// RecordBackendOperation records a storage backend operation.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	backendOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics
// labelled by URL path.
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithLabel(func(r *http.Request) string { return r.URL.Path }, next)
}

// MiddlewareWithLabel is Middleware with a caller-chosen path label, for
// routes whose paths embed unbounded object names.
func MiddlewareWithLabel(label func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, label(r), rw.statusCode, time.Since(start))
	})
}
