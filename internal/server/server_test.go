package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
	"github.com/panelsim/panelsim/internal/server/handlers"
	servermw "github.com/panelsim/panelsim/internal/server/middleware"
	"github.com/panelsim/panelsim/internal/survey"
)

func newTestServer(t *testing.T, limiter *servermw.ClientLimiter) *Server {
	t.Helper()
	roster, err := respondent.NewRoster([]respondent.Respondent{
		{ID: "tokyo-001", Prefecture: "Tokyo", Region: "Kanto", Age: 34, Gender: "female"},
	})
	require.NoError(t, err)
	tracker := quota.NewTracker(quota.Limits{RPM: 15, RPD: 1500})

	return New(Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		BulkLimiter:    limiter,
		API: &handlers.API{
			Survey:    &survey.Service{Roster: roster, Quota: tracker},
			Directory: roster,
		},
	})
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServerServesUsage(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"requests_today": 0,
		"requests_remaining_today": 1500,
		"rpm_current": 0,
		"rpm_limit": 15,
		"rpd_limit": 1500,
		"quota_pct_used": 0
	}`, rec.Body.String())
}

func TestServerAllowsConfiguredOrigin(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/bulk-question", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerThrottlesBulkRuns(t *testing.T) {
	srv := newTestServer(t, servermw.NewClientLimiter(0.01, 1))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/bulk-question", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code, "first run reaches the handler")
	assert.Contains(t, first.Body.String(), "event: error")

	assert.Equal(t, http.StatusTooManyRequests, send().Code)
}
