// Package errors builds gofulmen error envelopes for the HTTP API and maps
// them to status codes.
package errors

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/panelsim/panelsim/internal/server/middleware"
)

// Error codes carried in the response body.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// DefaultRetryAfter is advertised on rate-limited responses that carry no
// hint of their own. It matches the upstream per-minute window.
const DefaultRetryAfter = time.Minute

const (
	ctxWrappedError = "wrapped_error"
	ctxRetryAfter   = "retry_after_seconds"
)

type codeInfo struct {
	status   int
	severity errors.Severity
}

// codes maps each code to its HTTP status and default severity. Severity
// decides the log level a response is written at; caller mistakes carry
// none and log at info.
var codes = map[string]codeInfo{
	CodeInvalidInput:       {status: http.StatusBadRequest},
	CodeNotFound:           {status: http.StatusNotFound},
	CodeMethodNotAllowed:   {status: http.StatusMethodNotAllowed},
	CodeRateLimited:        {status: http.StatusTooManyRequests},
	CodeTimeout:            {http.StatusGatewayTimeout, errors.SeverityMedium},
	CodeExternalService:    {http.StatusBadGateway, errors.SeverityMedium},
	CodeServiceUnavailable: {http.StatusServiceUnavailable, errors.SeverityMedium},
	CodeDatabase:           {http.StatusInternalServerError, errors.SeverityHigh},
	CodeInternal:           {http.StatusInternalServerError, errors.SeverityHigh},
}

// HTTPStatusFromCode resolves the HTTP status for an error code. Unknown
// codes are server errors.
func HTTPStatusFromCode(code string) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func newEnvelope(code, message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(code, message)
	if info, ok := codes[code]; ok && info.severity != "" {
		if updated, err := env.WithSeverity(info.severity); err == nil {
			env = updated
		}
	}
	return env
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeMethodNotAllowed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeInternal, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeServiceUnavailable, message)
}

// NewRateLimitedError reports that a request may succeed after retryAfter.
// Zero means DefaultRetryAfter.
func NewRateLimitedError(message string, retryAfter time.Duration) *errors.ErrorEnvelope {
	return WithRetryAfter(newEnvelope(CodeRateLimited, message), retryAfter)
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeNotFound, err, message)
}

// WrapRateLimited wraps an upstream quota rejection. The default retry hint
// is attached; override it with WithRetryAfter.
func WrapRateLimited(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return WithRetryAfter(wrap(ctx, CodeRateLimited, err, message), 0)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDatabase, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func WrapTimeout(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeTimeout, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := requestID(ctx)
	env := newEnvelope(code, message).WithCorrelationID(id).WithTraceID(id)
	if err == nil {
		return env
	}
	return withContext(env, ctxWrappedError, err.Error())
}

// WithRetryAfter records how long a caller should wait, rounded up to whole
// seconds. Non-positive durations use DefaultRetryAfter.
func WithRetryAfter(env *errors.ErrorEnvelope, d time.Duration) *errors.ErrorEnvelope {
	if env == nil {
		return nil
	}
	if d <= 0 {
		d = DefaultRetryAfter
	}
	secs := int((d + time.Second - 1) / time.Second)
	return withContext(env, ctxRetryAfter, secs)
}

// RetryAfter returns the retry hint attached to env in whole seconds.
func RetryAfter(env *errors.ErrorEnvelope) (int, bool) {
	if env == nil {
		return 0, false
	}
	switch v := env.Context[ctxRetryAfter].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func withContext(env *errors.ErrorEnvelope, key string, value interface{}) *errors.ErrorEnvelope {
	merged := make(map[string]interface{}, len(env.Context)+1)
	for k, v := range env.Context {
		merged[k] = v
	}
	merged[key] = value
	updated, err := env.WithContext(merged)
	if err != nil {
		return env
	}
	return updated
}

func requestID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// EnsureEnvelope normalizes any error into an envelope. Envelopes pass
// through; anything else becomes an internal error.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env, _ := newEnvelope(CodeInternal, "unexpected nil error").WithSeverity(errors.SeverityCritical)
		return env
	}
	if env, ok := err.(*errors.ErrorEnvelope); ok && env != nil {
		return env
	}
	return withContext(newEnvelope(CodeInternal, "unexpected error"), ctxWrappedError, err.Error())
}
