package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/panelsim/panelsim/internal/metrics"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/quota"
)

// CallFunc performs the external call for one task.
type CallFunc func(ctx context.Context, task Task) (string, error)

// Admitter paces calls against the upstream quota.
type Admitter interface {
	Admit(ctx context.Context) error
	Status() quota.Status
	EffectiveConcurrency(requested int) int
}

// Observer is notified of every batch and every emitted outcome, in order.
// Each observer runs on its own goroutine, off the emitting path, with a
// context that outlives the caller's and ends after the observer timeout.
type Observer interface {
	BatchStarted(ctx context.Context, plan Plan)
	OutcomeEmitted(ctx context.Context, plan Plan, outcome Outcome)
}

// Plan describes how a batch will run.
type Plan struct {
	BatchID   string
	Total     int
	Requested int
	Effective int
	StartedAt time.Time
	// Prompt is shared by every task; empty when tasks differ.
	Prompt string
}

// Clamped reports whether the requested concurrency was lowered.
func (p Plan) Clamped() bool {
	return p.Effective < p.Requested
}

// Stream delivers the outcomes of one batch.
type Stream struct {
	Plan     Plan
	outcomes <-chan Outcome
	observed <-chan struct{}
}

// Outcomes yields outcomes in completion order. The channel is closed after
// the last outcome, or early when the dispatch context ends.
func (s *Stream) Outcomes() <-chan Outcome {
	return s.outcomes
}

// Observed is closed once every observer has handled every event of the
// batch. It closes after Outcomes does.
func (s *Stream) Observed() <-chan struct{} {
	return s.observed
}

// Dispatcher fans a batch of tasks out over a bounded set of workers, each
// call paced by the quota tracker.
type Dispatcher struct {
	Quota     Admitter
	Observers []Observer
	Clock     func() time.Time
	// ObserverTimeout bounds each observer call. Zero means
	// DefaultObserverTimeout.
	ObserverTimeout time.Duration
}

// New creates a dispatcher over a quota tracker.
func New(tracker Admitter, observers ...Observer) *Dispatcher {
	return &Dispatcher{Quota: tracker, Observers: observers}
}

// Dispatch validates the batch and starts it. The returned stream emits one
// outcome per admitted task. Setup problems are returned as errors before
// anything runs.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task, concurrency int, call CallFunc) (*Stream, error) {
	if d == nil || d.Quota == nil {
		return nil, errors.New("dispatcher has no quota tracker")
	}
	if call == nil {
		return nil, errors.New("dispatch requires a call function")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	plan := Plan{
		BatchID:   uuid.NewString(),
		Total:     len(tasks),
		Requested: concurrency,
		Effective: d.Quota.EffectiveConcurrency(concurrency),
		StartedAt: d.now(),
		Prompt:    sharedPrompt(tasks),
	}
	metrics.RecordBatch(plan.Clamped())
	if logger := observability.Logger(); logger != nil {
		logger.Info("Dispatching batch",
			zap.String("batch_id", plan.BatchID),
			zap.Int("total", plan.Total),
			zap.Int("requested_concurrency", plan.Requested),
			zap.Int("effective_concurrency", plan.Effective))
	}

	notify := newNotifier(ctx, plan, d.Observers, d.ObserverTimeout)

	out := make(chan Outcome)
	completions := make(chan Outcome, len(tasks))
	gate := semaphore.NewWeighted(int64(plan.Effective))

	var group errgroup.Group
	for _, task := range tasks {
		group.Go(func() error {
			if err := gate.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer gate.Release(1)

			if outcome, ok := d.run(ctx, task, call); ok {
				completions <- outcome
			}
			return nil
		})
	}
	go func() {
		_ = group.Wait()
		close(completions)
	}()
	go d.emit(ctx, notify, plan, completions, out)

	return &Stream{Plan: plan, outcomes: out, observed: notify.done}, nil
}

// run admits and executes one task. ok is false when the task never got past
// admission because ctx ended.
func (d *Dispatcher) run(ctx context.Context, task Task, call CallFunc) (outcome Outcome, ok bool) {
	if err := d.Quota.Admit(ctx); err != nil {
		return Outcome{}, false
	}

	started := d.now()
	outcome = Outcome{Task: task, RespondentID: task.RespondentID}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic("dispatch")
			outcome.Failure, outcome.Answer, outcome.Diagnostic = classify(fmt.Errorf("panic: %v", r))
			outcome.Duration = d.now().Sub(started)
			ok = true
		}
		metrics.RecordOutcome(string(outcome.Failure), outcome.Duration)
	}()

	answer, err := call(ctx, task)
	outcome.Duration = d.now().Sub(started)
	if err != nil {
		outcome.Failure, outcome.Answer, outcome.Diagnostic = classify(err)
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Task failed",
				zap.String("respondent_id", task.RespondentID),
				zap.String("failure", string(outcome.Failure)),
				zap.Error(err))
		}
		return outcome, true
	}
	outcome.Answer = answer
	return outcome, true
}

// emit stamps completion order and usage onto each outcome and forwards it.
func (d *Dispatcher) emit(ctx context.Context, notify *notifier, plan Plan, completions <-chan Outcome, out chan<- Outcome) {
	defer notify.close()
	defer close(out)

	completed := 0
	for outcome := range completions {
		completed++
		outcome.CompletedIndex = completed
		outcome.Total = plan.Total
		outcome.Usage = d.Quota.Status()

		notify.outcome(d.Observers, plan, outcome)

		select {
		case out <- outcome:
		case <-ctx.Done():
			d.logFinished(plan, completed, ctx.Err())
			return
		}
	}
	d.logFinished(plan, completed, nil)
}

func (d *Dispatcher) logFinished(plan Plan, completed int, err error) {
	logger := observability.Logger()
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("batch_id", plan.BatchID),
		zap.Int("completed", completed),
		zap.Int("total", plan.Total),
		zap.Duration("elapsed", d.now().Sub(plan.StartedAt)),
	}
	if err != nil {
		logger.Warn("Batch stopped before completion", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("Batch finished", fields...)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

func validateTasks(tasks []Task) error {
	seen := make(map[string]struct{}, len(tasks))
	for i, task := range tasks {
		id := strings.TrimSpace(task.RespondentID)
		if id == "" {
			return fmt.Errorf("task %d has no respondent id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate respondent id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func sharedPrompt(tasks []Task) string {
	if len(tasks) == 0 {
		return ""
	}
	for _, task := range tasks[1:] {
		if task.Prompt != tasks[0].Prompt {
			return ""
		}
	}
	return tasks[0].Prompt
}

// Collect drains a stream into a slice in emission order.
func Collect(ctx context.Context, s *Stream) ([]Outcome, error) {
	var outcomes []Outcome
	for {
		select {
		case outcome, ok := <-s.Outcomes():
			if !ok {
				if len(outcomes) < s.Plan.Total {
					if err := ctx.Err(); err != nil {
						return outcomes, err
					}
				}
				return outcomes, nil
			}
			outcomes = append(outcomes, outcome)
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
	}
}
