package metrics

import (
	"time"

	"github.com/panelsim/panelsim/internal/observability"
)

// Quota and dispatch metrics following Prometheus conventions
const (
	QuotaAdmissionsTotal = "quota_admissions_total"
	QuotaPacingWait      = "quota_pacing_wait_ms"
	QuotaRequestsToday   = "quota_requests_today"

	DispatchBatchesTotal  = "dispatch_batches_total"
	DispatchOutcomesTotal = "dispatch_outcomes_total"
	DispatchTaskDuration  = "dispatch_task_duration_ms"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
)

// RecordQuotaAdmission counts an admitted request and publishes the day total.
func RecordQuotaAdmission(requestsToday int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(QuotaAdmissionsTotal, 1, nil)
	_ = observability.TelemetrySystem.Gauge(QuotaRequestsToday, float64(requestsToday), nil)
}

// RecordQuotaWait records one pacing wait.
func RecordQuotaWait(wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(QuotaPacingWait, wait, nil)
	}
}

// RecordBatch counts a dispatched batch. clamped is true when the requested
// concurrency was lowered to fit the per-minute limit.
func RecordBatch(clamped bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	label := "false"
	if clamped {
		label = "true"
	}
	_ = observability.TelemetrySystem.Counter(
		DispatchBatchesTotal,
		1,
		map[string]string{"clamped": label},
	)
}

// RecordOutcome counts a finished task by failure kind ("none" on success)
// and records how long the external call took.
func RecordOutcome(failure string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	if failure == "" {
		failure = "none"
	}
	labels := map[string]string{"failure": failure}
	_ = observability.TelemetrySystem.Counter(DispatchOutcomesTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(DispatchTaskDuration, duration, labels)
}

// RecordHealthCheck records a health check execution with its result
// (healthy, degraded or unhealthy).
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}
