package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/observability"
)

// BatchStarted records a new bulk run. Failures are logged and otherwise
// ignored; the run continues without an archive.
func (a *Archive) BatchStarted(ctx context.Context, plan dispatch.Plan) {
	err := a.SaveBatch(ctx, BatchRecord{
		ID:        plan.BatchID,
		Question:  plan.Prompt,
		Total:     plan.Total,
		Requested: plan.Requested,
		Effective: plan.Effective,
		StartedAt: plan.StartedAt.UnixMilli(),
	})
	if err != nil {
		warn("Failed to archive batch", plan.BatchID, err)
	}
}

// OutcomeEmitted records one emitted outcome.
func (a *Archive) OutcomeEmitted(ctx context.Context, plan dispatch.Plan, outcome dispatch.Outcome) {
	err := a.SaveOutcome(ctx, RecordFromOutcome(plan.BatchID, outcome))
	if err != nil {
		warn("Failed to archive outcome", plan.BatchID, err)
	}
}

// RecordFromOutcome converts an emitted outcome into its archived form.
func RecordFromOutcome(batchID string, outcome dispatch.Outcome) OutcomeRecord {
	r := outcome.Task.Respondent
	return OutcomeRecord{
		BatchID:        batchID,
		CompletedIndex: outcome.CompletedIndex,
		RespondentID:   outcome.RespondentID,
		DisplayName:    r.DisplayName(),
		Prefecture:     r.Prefecture,
		Answer:         outcome.Answer,
		Failure:        string(outcome.Failure),
		Diagnostic:     outcome.Diagnostic,
		DurationMS:     outcome.Duration.Milliseconds(),
		RecordedAt:     time.Now().UTC().UnixMilli(),
	}
}

func warn(msg, batchID string, err error) {
	if logger := observability.Logger(); logger != nil {
		logger.Warn(msg, zap.String("batch_id", batchID), zap.Error(err))
	}
}
