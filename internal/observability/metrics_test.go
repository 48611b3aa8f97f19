package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsLifecycle(t *testing.T) {
	require.NoError(t, InitMetrics("panelsim_test", 0))
	t.Cleanup(func() { _ = ShutdownMetrics() })

	assert.NotNil(t, TelemetrySystem)
	assert.NotNil(t, PrometheusExporter)
	assert.Positive(t, GetMetricsPort())

	require.NoError(t, ShutdownMetrics())
	assert.Nil(t, TelemetrySystem)
	assert.Nil(t, PrometheusExporter)
	assert.Zero(t, GetMetricsPort())

	require.NoError(t, ShutdownMetrics(), "second shutdown is a no-op")
}

func TestPortOf(t *testing.T) {
	p, err := portOf("[::]:9191")
	require.NoError(t, err)
	assert.Equal(t, 9191, p)

	_, err = portOf("no-port")
	assert.Error(t, err)
}
