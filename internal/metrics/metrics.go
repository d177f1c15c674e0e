// Package metrics provides Prometheus metrics for Leafcutter.
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
			Name: "leafcutter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcutter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	libraryBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leafcutter_library_bytes_served_total",
			Help: "Total bytes served from library roots",
		},
	)

	// Index store metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_cache_lookups_total",
			Help: "Cache lookups by result (hit, absent, mismatch)",
		},
		[]string{"result"},
	)

	remoteFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_remote_fetches_total",
			Help: "Remote fetches by scheme and status",
		},
		[]string{"scheme", "status"},
	)

	remoteFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcutter_remote_fetch_duration_seconds",
			Help:    "Remote fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	remoteBytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leafcutter_remote_bytes_fetched_total",
			Help: "Total bytes fetched from remote sources",
		},
	)

	// Builder metrics
	indexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_index_builds_total",
			Help: "Index builds by outcome (built, skipped, error)",
		},
		[]string{"outcome"},
	)

	indexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leafcutter_index_build_duration_seconds",
			Help:    "Time to build the indexes of a library",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	indexedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafcutter_indexed_files",
			Help: "Number of files written to search pages by the last full build",
		},
	)

	// Catalog metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcutter_db_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcutter_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafcutter_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_events_total",
			Help: "Total events published",
		},
		[]string{"type"},
	)

	// Playback metrics
	playbackVoicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcutter_playback_voices_total",
			Help: "Playback voices by how they finished (started, choked, stopped, ended)",
		},
		[]string{"transition"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLibraryBytesServed adds to the served bytes counter.
func RecordLibraryBytesServed(bytes int64) {
	libraryBytesServed.Add(float64(bytes))
}

// RecordCacheLookup records the result of a cache resolve.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRemoteFetch records a remote fetch.
func RecordRemoteFetch(scheme string, bytes int64, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	remoteFetchesTotal.WithLabelValues(scheme, status).Inc()
	remoteFetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
	remoteBytesFetched.Add(float64(bytes))
}

// RecordIndexBuild records a builder run. outcome is built, skipped or error.
func RecordIndexBuild(outcome string, files int, duration time.Duration) {
	indexBuildsTotal.WithLabelValues(outcome).Inc()
	indexBuildDuration.Observe(duration.Seconds())
	if outcome == "built" {
		indexedFiles.Set(float64(files))
	}
}

// RecordDBQuery records a catalog query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordEvent records an event publication.
func RecordEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPlayback records a playback voice transition.
func RecordPlayback(transition string) {
	playbackVoicesTotal.WithLabelValues(transition).Inc()
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

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
