package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

type testClock struct {
	mu      sync.Mutex
	now     time.Time
	elapsed time.Duration
	block   bool
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.block {
		return nil
	}
	c.now = c.now.Add(d)
	c.elapsed += d
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *testClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func newTracker(clock *testClock, rpm int) *quota.Tracker {
	return quota.NewTracker(quota.Limits{RPM: rpm, RPD: 1500, Margin: quota.DefaultMargin},
		quota.WithClock(clock.Now), quota.WithTimer(clock.After))
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		id := fmt.Sprintf("r%02d", i+1)
		tasks[i] = Task{
			RespondentID: id,
			Prompt:       "How do you commute?",
			Respondent:   respondent.Respondent{ID: id, Prefecture: "Tokyo", Age: 30 + i},
		}
	}
	return tasks
}

func collect(t *testing.T, stream *Stream) []Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	outcomes, err := Collect(ctx, stream)
	require.NoError(t, err)
	return outcomes
}

func TestDispatchEmitsInCompletionOrder(t *testing.T) {
	clock := newTestClock()
	dispatcher := New(newTracker(clock, 100))

	release := map[string]chan struct{}{
		"a": make(chan struct{}),
		"b": make(chan struct{}),
		"c": make(chan struct{}),
	}
	tasks := []Task{{RespondentID: "a"}, {RespondentID: "b"}, {RespondentID: "c"}}

	stream, err := dispatcher.Dispatch(context.Background(), tasks, 3, func(ctx context.Context, task Task) (string, error) {
		<-release[task.RespondentID]
		return "answer-" + task.RespondentID, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, stream.Plan.Total)
	require.False(t, stream.Plan.Clamped())

	var order []string
	for _, id := range []string{"c", "a", "b"} {
		close(release[id])
		outcome := <-stream.Outcomes()
		order = append(order, outcome.RespondentID)
		assert.Equal(t, len(order), outcome.CompletedIndex)
		assert.Equal(t, 3, outcome.Total)
		assert.Equal(t, "answer-"+id, outcome.Answer)
		assert.False(t, outcome.Failed())
	}
	require.Equal(t, []string{"c", "a", "b"}, order)

	_, open := <-stream.Outcomes()
	require.False(t, open)
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	clock := newTestClock()
	dispatcher := New(newTracker(clock, 4))

	var inFlight, peak atomic.Int32
	stream, err := dispatcher.Dispatch(context.Background(), makeTasks(10), 10, func(ctx context.Context, task Task) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, stream.Plan.Effective)
	require.True(t, stream.Plan.Clamped())

	outcomes := collect(t, stream)
	require.Len(t, outcomes, 10)
	require.LessOrEqual(t, peak.Load(), int32(2))

	seen := make(map[string]bool)
	for i, outcome := range outcomes {
		assert.Equal(t, i+1, outcome.CompletedIndex)
		seen[outcome.RespondentID] = true
	}
	require.Len(t, seen, 10)
}

func TestDispatchClassifiesFailuresPerTask(t *testing.T) {
	clock := newTestClock()
	dispatcher := New(newTracker(clock, 100))

	long := strings.Repeat("接続が切断されました", 20)
	tasks := []Task{{RespondentID: "ok"}, {RespondentID: "quota"}, {RespondentID: "broken"}, {RespondentID: "panics"}}
	stream, err := dispatcher.Dispatch(context.Background(), tasks, 4, func(ctx context.Context, task Task) (string, error) {
		switch task.RespondentID {
		case "quota":
			return "", errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")
		case "broken":
			return "", errors.New(long)
		case "panics":
			panic("nil respondent profile")
		default:
			return "I take the train.", nil
		}
	})
	require.NoError(t, err)

	byID := make(map[string]Outcome)
	for _, outcome := range collect(t, stream) {
		byID[outcome.RespondentID] = outcome
	}
	require.Len(t, byID, 4)

	assert.Equal(t, FailureNone, byID["ok"].Failure)
	assert.Equal(t, "I take the train.", byID["ok"].Answer)

	assert.Equal(t, FailureQuotaExhausted, byID["quota"].Failure)
	assert.Equal(t, QuotaExhaustedAnswer, byID["quota"].Answer)
	assert.Empty(t, byID["quota"].Diagnostic)

	broken := byID["broken"]
	assert.Equal(t, FailureOther, broken.Failure)
	assert.Equal(t, MaxDiagnosticRunes, utf8.RuneCountInString(broken.Diagnostic))
	assert.True(t, strings.HasPrefix(long, broken.Diagnostic))
	assert.Contains(t, broken.Answer, broken.Diagnostic)

	assert.Equal(t, FailureOther, byID["panics"].Failure)
	assert.Contains(t, byID["panics"].Diagnostic, "nil respondent profile")
}

func TestDispatchSetupFailures(t *testing.T) {
	clock := newTestClock()
	dispatcher := New(newTracker(clock, 15))
	call := func(ctx context.Context, task Task) (string, error) { return "", nil }

	cases := []struct {
		name        string
		tasks       []Task
		concurrency int
		call        CallFunc
		wantErr     string
	}{
		{name: "no call", tasks: makeTasks(1), concurrency: 1, call: nil, wantErr: "call function"},
		{name: "zero concurrency", tasks: makeTasks(1), concurrency: 0, call: call, wantErr: "concurrency"},
		{name: "empty id", tasks: []Task{{RespondentID: " "}}, concurrency: 1, call: call, wantErr: "no respondent id"},
		{name: "duplicate id", tasks: []Task{{RespondentID: "x"}, {RespondentID: "x"}}, concurrency: 1, call: call, wantErr: "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stream, err := dispatcher.Dispatch(context.Background(), tc.tasks, tc.concurrency, tc.call)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
			require.Nil(t, stream)
		})
	}
	require.Equal(t, 0, dispatcher.Quota.Status().RequestsToday)
}

func TestDispatchPacesAcrossTheMinute(t *testing.T) {
	clock := newTestClock()
	tracker := newTracker(clock, 15)
	dispatcher := New(tracker)

	stream, err := dispatcher.Dispatch(context.Background(), makeTasks(20), 10, func(ctx context.Context, task Task) (string, error) {
		return "fine", nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, stream.Plan.Effective)

	outcomes := collect(t, stream)
	require.Len(t, outcomes, 20)
	require.GreaterOrEqual(t, clock.Elapsed(), 60*time.Second-time.Second)

	last := outcomes[len(outcomes)-1]
	require.Equal(t, 20, last.CompletedIndex)
	require.Equal(t, 20, last.Usage.RequestsToday)
	require.LessOrEqual(t, last.Usage.RPMCurrent, 15)
}

func TestDispatchCancellationStopsAdmission(t *testing.T) {
	clock := newTestClock()
	clock.block = true
	tracker := newTracker(clock, 1)
	dispatcher := New(tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	stream, err := dispatcher.Dispatch(ctx, makeTasks(4), 4, func(ctx context.Context, task Task) (string, error) {
		calls.Add(1)
		return "first", nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, stream.Plan.Effective)

	first := <-stream.Outcomes()
	require.Equal(t, 1, first.CompletedIndex)

	cancel()

	for range stream.Outcomes() {
	}
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, tracker.Status().RequestsToday)
}

type recordingObserver struct {
	mu       sync.Mutex
	batches  []Plan
	outcomes []Outcome
}

func (r *recordingObserver) BatchStarted(ctx context.Context, plan Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, plan)
}

func (r *recordingObserver) OutcomeEmitted(ctx context.Context, plan Plan, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestDispatchNotifiesObservers(t *testing.T) {
	clock := newTestClock()
	observer := &recordingObserver{}
	dispatcher := New(newTracker(clock, 30), observer)

	stream, err := dispatcher.Dispatch(context.Background(), makeTasks(3), 2, func(ctx context.Context, task Task) (string, error) {
		return "yes", nil
	})
	require.NoError(t, err)
	outcomes := collect(t, stream)

	select {
	case <-stream.Observed():
	case <-time.After(2 * time.Second):
		t.Fatal("observers were not drained")
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.batches, 1)
	require.Equal(t, stream.Plan.BatchID, observer.batches[0].BatchID)
	require.Equal(t, outcomes, observer.outcomes)
}

// blockingObserver holds every notification until released, ignoring its
// context.
type blockingObserver struct {
	release chan struct{}
	seen    atomic.Int32
}

func (b *blockingObserver) BatchStarted(ctx context.Context, plan Plan) {
	<-b.release
}

func (b *blockingObserver) OutcomeEmitted(ctx context.Context, plan Plan, outcome Outcome) {
	<-b.release
	b.seen.Add(1)
}

func TestDispatchIsNotHeldBackBySlowObserver(t *testing.T) {
	stuck := &blockingObserver{release: make(chan struct{})}
	recorder := &recordingObserver{}
	dispatcher := New(newTracker(newTestClock(), 30), stuck, recorder)

	stream, err := dispatcher.Dispatch(context.Background(), makeTasks(3), 3, func(ctx context.Context, task Task) (string, error) {
		return "yes", nil
	})
	require.NoError(t, err)

	outcomes := collect(t, stream)
	require.Len(t, outcomes, 3)

	select {
	case <-stream.Observed():
		t.Fatal("observers reported drained while one is still blocked")
	default:
	}
	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.outcomes) == 3
	}, 2*time.Second, 5*time.Millisecond, "other observers keep receiving events")

	close(stuck.release)
	select {
	case <-stream.Observed():
	case <-time.After(2 * time.Second):
		t.Fatal("observers were not drained after release")
	}
	assert.Equal(t, int32(3), stuck.seen.Load())
}

type deadlineObserver struct {
	mu        sync.Mutex
	deadlines []bool
	errs      []error
}

func (d *deadlineObserver) BatchStarted(ctx context.Context, plan Plan) {
	<-ctx.Done()
	d.record(ctx)
}

func (d *deadlineObserver) OutcomeEmitted(ctx context.Context, plan Plan, outcome Outcome) {
	d.record(ctx)
}

func (d *deadlineObserver) record(ctx context.Context) {
	_, ok := ctx.Deadline()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadlines = append(d.deadlines, ok)
	d.errs = append(d.errs, ctx.Err())
}

func TestDispatchObserverCallsAreBounded(t *testing.T) {
	observer := &deadlineObserver{}
	dispatcher := New(newTracker(newTestClock(), 30), observer)
	dispatcher.ObserverTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := dispatcher.Dispatch(ctx, makeTasks(1), 1, func(ctx context.Context, task Task) (string, error) {
		return "yes", nil
	})
	require.NoError(t, err)
	require.Len(t, collect(t, stream), 1)
	cancel()

	select {
	case <-stream.Observed():
	case <-time.After(2 * time.Second):
		t.Fatal("observer deadline did not fire")
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Equal(t, []bool{true, true}, observer.deadlines)
	assert.ErrorIs(t, observer.errs[0], context.DeadlineExceeded)
	assert.NoError(t, observer.errs[1], "caller cancellation does not reach observers")
}

func TestDispatchEmptyBatchClosesImmediately(t *testing.T) {
	dispatcher := New(newTracker(newTestClock(), 15))
	stream, err := dispatcher.Dispatch(context.Background(), nil, 3, func(ctx context.Context, task Task) (string, error) {
		return "", nil
	})
	require.NoError(t, err)
	require.Empty(t, collect(t, stream))
}
