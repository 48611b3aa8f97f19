package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/metrics"
	"github.com/panelsim/panelsim/internal/observability"
)

// Recovery turns a handler panic into a 500 envelope. The stack is logged
// and never written to the client. http.ErrAbortHandler is re-raised so a
// streaming handler can still abort its connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			id := GetRequestID(r.Context())
			metrics.RecordPanic("http")
			if logger := observability.Logger(); logger != nil {
				logger.Error("Recovered handler panic",
					zap.String("request_id", id),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
			}

			env := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec)).WithCorrelationID(id)
			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// writeErrorResponse mirrors the errors package body shape. That package
// imports this one, so it cannot be used here.
func writeErrorResponse(w http.ResponseWriter, env *errors.ErrorEnvelope, status int) {
	var body errorBody
	body.Error.Code = env.Code
	body.Error.Message = env.Message
	body.Error.RequestID = env.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(body)
}
