package metrics

import (
	"strconv"

	"github.com/panelsim/panelsim/internal/observability"
)

const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
	// StreamAbortsTotal counts bulk streams that ended before "done".
	StreamAbortsTotal = "bulk_stream_aborts_total"
)

// Stream abort reasons.
const (
	AbortClientGone  = "client_gone"
	AbortWriteFailed = "write_failed"
	AbortSetup       = "setup_failed"
)

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic records a recovered panic. source is "http" or "dispatch".
func RecordPanic(source string) {
	counter(PanicsTotalName, map[string]string{"source": source})
}

// RecordErrorByEndpoint counts an error response by request path.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

// RecordStreamAbort counts a bulk stream that ended early. code is the
// error envelope code for setup failures and empty otherwise.
func RecordStreamAbort(reason, code string) {
	labels := map[string]string{"reason": reason}
	if code != "" {
		labels["error_code"] = code
	}
	counter(StreamAbortsTotal, labels)
}
