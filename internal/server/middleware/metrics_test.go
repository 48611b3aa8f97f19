package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestRequestMetrics(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		body    string
		status  int
		written string
		metrics []string
		absent  []string
	}{
		{
			name:    "success",
			method:  http.MethodGet,
			status:  http.StatusOK,
			written: "ok",
			metrics: []string{HTTPRequestsTotal, HTTPRequestDuration, HTTPResponseBytes},
			absent:  []string{HTTPErrorsTotal},
		},
		{
			name:    "server error",
			method:  http.MethodGet,
			status:  http.StatusInternalServerError,
			metrics: []string{HTTPRequestsTotal, HTTPErrorsTotal},
		},
		{
			name:    "client error",
			method:  http.MethodPost,
			body:    `{"question":""}`,
			status:  http.StatusBadRequest,
			metrics: []string{HTTPErrorsTotal},
			absent:  []string{HTTPStreamsActive},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := setupTelemetry(t)
			handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.written))
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/usage", strings.NewReader(tt.body)))

			assert.Equal(t, tt.status, rec.Code)
			for _, name := range tt.metrics {
				assert.Greater(t, collector.CountMetricsByName(name), 0, "expected %s", name)
			}
			for _, name := range tt.absent {
				assert.Zero(t, collector.CountMetricsByName(name), "unexpected %s", name)
			}
		})
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetEndpointPattern(t *testing.T) {
	tests := map[string]string{
		"/health":                    "/health/*",
		"/health/ready":              "/health/*",
		"/version":                   "/version",
		"/metrics":                   "/metrics",
		"/api/respondents/tokyo-001": "/api/*",
		"/api/bulk-question":         "/api/*",
		"/favicon.ico":               "/unknown",
		"/":                          "/",
	}
	for path, want := range tests {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, want, getEndpointPattern(httptest.NewRequest(http.MethodGet, path, nil)))
		})
	}
}

func TestResponseWriterForwardsFlush(t *testing.T) {
	setupTelemetry(t)

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "wrapped writer must support streaming")
		_, _ = w.Write([]byte("event: progress\n\n"))
		flusher.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bulk-question", nil))
	assert.True(t, rec.Flushed)
}

func TestRequestMetricsTracksOpenStreams(t *testing.T) {
	collector := setupTelemetry(t)
	before := ActiveStreams()

	var during int64
	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		during = ActiveStreams()
		_, _ = w.Write([]byte(": keep-alive\n\n"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/bulk-question", nil))

	assert.Equal(t, before+1, during)
	assert.Equal(t, before, ActiveStreams())
	assert.Equal(t, 2, collector.CountMetricsByName(HTTPStreamsActive))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-abc", seen)
	assert.Equal(t, "client-abc", rec.Header().Get(RequestIDHeader))

	for _, bad := range []string{"", "has space", strings.Repeat("a", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36, "expected a generated UUID for %q", bad)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	}
}
