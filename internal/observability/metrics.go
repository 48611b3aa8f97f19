package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DefaultMetricsPort is reported when the exporter address cannot be parsed.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem receives every counter, gauge and histogram. Nil
	// disables recording.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint while metrics are on.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free port) and
// routes TelemetrySystem to it. Metric names are prefixed with namespace.
func InitMetrics(namespace string, port int) error {
	if port < 0 {
		port = 0
	}

	exp := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exp.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exp})
	if err != nil {
		_ = exp.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	metricsPort = port
	if actual, err := portOf(exp.GetAddr()); err == nil {
		metricsPort = actual
	} else if port == 0 {
		metricsPort = DefaultMetricsPort
	}
	PrometheusExporter = exp
	TelemetrySystem = sys
	return nil
}

// ShutdownMetrics stops the exporter and turns recording off. It is safe to
// call when metrics were never started.
func ShutdownMetrics() error {
	exp := PrometheusExporter
	TelemetrySystem = nil
	PrometheusExporter = nil
	metricsPort = 0
	if exp == nil {
		return nil
	}
	return exp.Stop()
}

// GetMetricsPort returns the exporter's listening port, or zero when
// metrics are off.
func GetMetricsPort() int {
	return metricsPort
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
