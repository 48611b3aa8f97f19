package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/config"
	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/quota"
)

func TestFetchUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/usage", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requests_today":4,"requests_remaining_today":1496,"rpm_current":2,"rpm_limit":15,"rpd_limit":1500,"quota_pct_used":0.3}`))
	}))
	defer srv.Close()

	status, err := fetchUsage(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, 4, status.RequestsToday)
	assert.Equal(t, 1496, status.RequestsRemainingToday)
	assert.Equal(t, 15, status.RPMLimit)
	assert.InDelta(t, 0.3, status.QuotaPctUsed, 1e-9)
}

func TestFetchUsageRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchUsage(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/panelsim", redactURL("postgres://user:secret@db:5432/panelsim"))
	assert.Equal(t, "libsql://example.turso.io", redactURL("libsql://example.turso.io"))
	assert.Equal(t, "not a url", redactURL("not a url"))
}

func TestNewDriver(t *testing.T) {
	drv, err := newDriver(config.LLMConfig{Provider: "gemini", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", drv.Name())

	drv, err = newDriver(config.LLMConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", drv.Name())

	_, err = newDriver(config.LLMConfig{Provider: "mystery", APIKey: "k"})
	require.Error(t, err)
}

func TestMetricsNamespace(t *testing.T) {
	assert.Equal(t, "panel", metricsNamespace("panelsim", "panel"))
	assert.Equal(t, "panelsim", metricsNamespace("panelsim", ""))
}

func TestVersionProperties(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "2026-01-01")
	props := versionProperties("panelsim")

	got := map[string]string{}
	for _, p := range props {
		got[p.Key] = p.Value
	}
	assert.Equal(t, "panelsim", got["name"])
	assert.Equal(t, "1.2.3", got["version"])
	assert.NotEmpty(t, got["gofulmen"])
}

type heldObserver struct{ release chan struct{} }

func (h heldObserver) BatchStarted(context.Context, dispatch.Plan) { <-h.release }
func (h heldObserver) OutcomeEmitted(context.Context, dispatch.Plan, dispatch.Outcome) {}

func TestWaitObserved(t *testing.T) {
	tracker := quota.NewTracker(quota.Limits{RPM: 30, RPD: 100})
	held := heldObserver{release: make(chan struct{})}
	d := dispatch.New(tracker, held)

	stream, err := d.Dispatch(context.Background(), []dispatch.Task{{RespondentID: "p-1"}}, 1,
		func(context.Context, dispatch.Task) (string, error) { return "ok", nil })
	require.NoError(t, err)
	for range stream.Outcomes() {
	}

	assert.False(t, waitObserved(stream, 10*time.Millisecond))
	close(held.release)
	assert.True(t, waitObserved(stream, 2*time.Second))
}
