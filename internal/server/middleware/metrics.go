package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/observability"
)

// HTTP metric names.
const (
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPResponseBytes   = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"
	// HTTPStreamsActive is the number of open server-sent event streams.
	HTTPStreamsActive = "http_streams_active"
)

var activeStreams atomic.Int64

// ActiveStreams returns the number of event streams currently open.
func ActiveStreams() int64 { return activeStreams.Load() }

// statusRecorder captures the status and body size. It forwards Flush so
// event streams keep flushing through it, and counts a stream as open from
// the moment it declares text/event-stream.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	written   int64
	streaming bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	if strings.HasPrefix(rw.Header().Get("Content-Type"), "text/event-stream") && !rw.streaming {
		rw.streaming = true
		streamGauge(activeStreams.Add(1))
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *statusRecorder) Flush() {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) finish() {
	if rw.streaming {
		streamGauge(activeStreams.Add(-1))
	}
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
}

func streamGauge(n int64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(HTTPStreamsActive, float64(n), nil)
	}
}

// getEndpointPattern returns the chi route pattern, or a coarse bucket for
// unrouted paths, so labels stay low-cardinality.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/api/"):
		return "/api/*"
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	default:
		return "/unknown"
	}
}

// RequestMetrics records request counts, latency and error classes, and logs
// each completed request. Event streams are also tracked while open.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			rec.finish()
			observe(r, rec, time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}

func observe(r *http.Request, rec *statusRecorder, elapsed time.Duration) {
	endpoint := getEndpointPattern(r)

	if sys := observability.TelemetrySystem; sys != nil {
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		_ = sys.Counter(HTTPRequestsTotal, 1, labels)
		_ = sys.Histogram(HTTPRequestDuration, elapsed, labels)
		_ = sys.Gauge(HTTPResponseBytes, float64(rec.written), map[string]string{"method": r.Method, "endpoint": endpoint})

		if rec.status >= http.StatusBadRequest {
			class := "client_error"
			if rec.status >= http.StatusInternalServerError {
				class = "server_error"
			}
			_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": class,
			})
		}
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("HTTP request completed",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("response_size", rec.written),
			zap.Bool("stream", rec.streaming),
			zap.String("request_id", GetRequestID(r.Context())))
	}
}
