package errors

import (
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/metrics"
	"github.com/panelsim/panelsim/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPErrorDetail is the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail under "error".
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError writes err as a JSON error response. Rate-limited
// responses carry a Retry-After header.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}
	env := EnsureEnvelope(err)
	if env.CorrelationID == "" {
		var id string
		if r != nil {
			id = requestID(r.Context())
		} else {
			id = "fallback-" + errors.GenerateCorrelationID()
		}
		env = env.WithCorrelationID(id)
	}

	status := HTTPStatusFromCode(env.Code)
	logResponse(env, status)
	metrics.RecordError(env.Code, status)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, env.Code)
	}

	if status == http.StatusTooManyRequests {
		secs, ok := RetryAfter(env)
		if !ok {
			secs = int(DefaultRetryAfter.Seconds())
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      env.Code,
		Message:   env.Message,
		Details:   responseDetails(env),
		RequestID: env.CorrelationID,
	}})
}

// responseDetails merges envelope details with its context. Details win on
// key collisions.
func responseDetails(env *errors.ErrorEnvelope) map[string]interface{} {
	details := make(map[string]interface{}, len(env.Details)+len(env.Context))
	for k, v := range env.Context {
		details[k] = v
	}
	for k, v := range env.Details {
		details[k] = v
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func logResponse(env *errors.ErrorEnvelope, status int) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", env.Code),
		zap.Int("http_status", status),
		zap.String("request_id", env.CorrelationID),
	}
	if env.Severity != "" {
		fields = append(fields, zap.String("severity", string(env.Severity)))
	}
	for k, v := range env.Context {
		fields = append(fields, zap.Any(k, v))
	}

	switch env.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(env.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(env.Message, fields...)
	default:
		logger.Info(env.Message, fields...)
	}
}
