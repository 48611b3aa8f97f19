package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/observability"
)

// DefaultObserverTimeout bounds each observer call when the dispatcher sets
// no ObserverTimeout.
const DefaultObserverTimeout = 5 * time.Second

// notifier feeds one batch's events to every observer. Each observer drains
// its own queue on its own goroutine, so a slow observer delays neither the
// stream nor the other observers. Queues are sized for the whole batch and
// never block the sender.
type notifier struct {
	queues  []chan func(context.Context)
	base    context.Context
	timeout time.Duration
	batchID string
	done    chan struct{}
}

func newNotifier(ctx context.Context, plan Plan, observers []Observer, timeout time.Duration) *notifier {
	if timeout <= 0 {
		timeout = DefaultObserverTimeout
	}
	n := &notifier{
		base:    context.WithoutCancel(ctx),
		timeout: timeout,
		batchID: plan.BatchID,
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	for range observers {
		q := make(chan func(context.Context), plan.Total+1)
		n.queues = append(n.queues, q)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range q {
				n.call(event)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(n.done)
	}()

	for i, obs := range observers {
		n.queues[i] <- func(ctx context.Context) { obs.BatchStarted(ctx, plan) }
	}
	return n
}

func (n *notifier) call(event func(context.Context)) {
	ctx, cancel := context.WithTimeout(n.base, n.timeout)
	defer cancel()
	event(ctx)
	if ctx.Err() == context.DeadlineExceeded {
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Outcome observer exceeded its deadline",
				zap.String("batch_id", n.batchID),
				zap.Duration("timeout", n.timeout))
		}
	}
}

// outcome queues an emitted outcome for every observer.
func (n *notifier) outcome(observers []Observer, plan Plan, o Outcome) {
	for i, obs := range observers {
		n.queues[i] <- func(ctx context.Context) { obs.OutcomeEmitted(ctx, plan, o) }
	}
}

// close ends every queue once the batch stops emitting. Queued events are
// still delivered.
func (n *notifier) close() {
	for _, q := range n.queues {
		close(q)
	}
}
