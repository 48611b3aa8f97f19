// Package stats counts answered and failed survey tasks per day.
package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/observability"
)

const (
	fieldAnswered       = "answered"
	fieldQuotaExhausted = "quota_exhausted"
	fieldOther          = "other"
)

// Event is one finished task.
type Event struct {
	At         time.Time
	Failure    dispatch.Failure
	Prefecture string
}

// Counters tallies events by result.
type Counters struct {
	Answered       int64 `json:"answered"`
	QuotaExhausted int64 `json:"quota_exhausted"`
	Other          int64 `json:"other"`
}

func (c *Counters) add(field string, n int64) {
	switch field {
	case fieldAnswered:
		c.Answered += n
	case fieldQuotaExhausted:
		c.QuotaExhausted += n
	case fieldOther:
		c.Other += n
	}
}

// Recorder stores events and reports running totals.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Totals(ctx context.Context) (Counters, error)
}

func fieldFor(f dispatch.Failure) string {
	switch f {
	case dispatch.FailureNone:
		return fieldAnswered
	case dispatch.FailureQuotaExhausted:
		return fieldQuotaExhausted
	default:
		return fieldOther
	}
}

// Observer feeds dispatched outcomes into a Recorder.
type Observer struct {
	Recorder Recorder
	Clock    func() time.Time
}

// BatchStarted is a no-op.
func (o Observer) BatchStarted(context.Context, dispatch.Plan) {}

// OutcomeEmitted records the outcome. Recorder errors are logged.
func (o Observer) OutcomeEmitted(ctx context.Context, plan dispatch.Plan, outcome dispatch.Outcome) {
	if o.Recorder == nil {
		return
	}
	at := time.Now()
	if o.Clock != nil {
		at = o.Clock()
	}
	err := o.Recorder.Record(ctx, Event{
		At:         at,
		Failure:    outcome.Failure,
		Prefecture: outcome.Task.Respondent.Prefecture,
	})
	if err != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Failed to record outcome stats",
				zap.String("batch_id", plan.BatchID),
				zap.Error(err))
		}
	}
}
