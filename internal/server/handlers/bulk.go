package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/dispatch"
	apperrors "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/metrics"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
	"github.com/panelsim/panelsim/internal/server/sse"
)

// DefaultHeartbeat is the keep-alive interval of a bulk stream while the
// dispatcher waits on quota pacing.
const DefaultHeartbeat = 15 * time.Second

type bulkRequest struct {
	Question         string `json:"question"`
	PrefectureFilter string `json:"prefecture_filter"`
	RegionFilter     string `json:"region_filter"`
}

// ProgressEvent is the payload of one "progress" event.
type ProgressEvent struct {
	Completed   int          `json:"completed"`
	Total       int          `json:"total"`
	PersonaID   string       `json:"persona_id"`
	PersonaName string       `json:"persona_name"`
	Prefecture  string       `json:"prefecture"`
	Region      string       `json:"region"`
	Age         int          `json:"age"`
	Gender      string       `json:"gender"`
	Occupation  string       `json:"occupation"`
	Answer      string       `json:"answer"`
	Failure     string       `json:"failure,omitempty"`
	Usage       quota.Status `json:"usage"`
}

// DoneEvent closes a bulk stream that ran to completion.
type DoneEvent struct {
	Message   string `json:"message"`
	BatchID   string `json:"batch_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ErrorEvent closes a bulk stream that could not start.
type ErrorEvent struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func progressEvent(o dispatch.Outcome) ProgressEvent {
	r := o.Task.Respondent
	return ProgressEvent{
		Completed:   o.CompletedIndex,
		Total:       o.Total,
		PersonaID:   o.RespondentID,
		PersonaName: r.DisplayName(),
		Prefecture:  r.Prefecture,
		Region:      r.Region,
		Age:         r.Age,
		Gender:      r.Gender,
		Occupation:  r.Occupation,
		Answer:      o.Answer,
		Failure:     string(o.Failure),
		Usage:       o.Usage,
	}
}

// BulkQuestion asks one question of every matching respondent and streams
// each answer as a server-sent "progress" event in completion order,
// followed by "done". A batch that cannot start yields a single "error"
// event. Closing the connection cancels outstanding calls.
func (a *API) BulkQuestion(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewWriter(w)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "streaming is not available"))
		return
	}
	ctx := r.Context()

	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		a.bulkSetupFailed(stream, apperrors.WrapInvalidInput(ctx, err, "invalid bulk question body"))
		return
	}

	batch, err := a.Survey.StartBulk(ctx, req.Question, respondent.Filter{
		Prefecture: strings.TrimSpace(req.PrefectureFilter),
		Region:     strings.TrimSpace(req.RegionFilter),
	})
	if err != nil {
		a.bulkSetupFailed(stream, surveyError(ctx, err))
		return
	}

	heartbeat := time.NewTicker(a.heartbeat())
	defer heartbeat.Stop()

	completed := 0
	outcomes := batch.Outcomes()
	for outcomes != nil {
		select {
		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			completed = o.CompletedIndex
			if err := stream.Event("progress", progressEvent(o)); err != nil {
				logStreamError(batch.Plan.BatchID, err)
				return
			}
		case <-heartbeat.C:
			if err := stream.Comment("keep-alive"); err != nil {
				logStreamError(batch.Plan.BatchID, err)
				return
			}
		case <-ctx.Done():
			metrics.RecordStreamAbort(metrics.AbortClientGone, "")
			return
		}
	}
	if ctx.Err() != nil {
		metrics.RecordStreamAbort(metrics.AbortClientGone, "")
		return
	}

	_ = stream.Event("done", DoneEvent{
		Message:   "done",
		BatchID:   batch.Plan.BatchID,
		Completed: completed,
		Total:     batch.Plan.Total,
	})
}

func (a *API) bulkSetupFailed(stream *sse.Writer, err error) {
	env := apperrors.EnsureEnvelope(err)
	metrics.RecordStreamAbort(metrics.AbortSetup, env.Code)
	_ = stream.Event("error", ErrorEvent{Error: env.Message, Code: env.Code})
}

func (a *API) heartbeat() time.Duration {
	if a.Heartbeat > 0 {
		return a.Heartbeat
	}
	return DefaultHeartbeat
}

func logStreamError(batchID string, err error) {
	metrics.RecordStreamAbort(metrics.AbortWriteFailed, "")
	if logger := observability.Logger(); logger != nil {
		logger.Info("Bulk stream closed by client",
			zap.String("batch_id", batchID),
			zap.Error(err))
	}
}
