package quota

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/metrics"
	"github.com/panelsim/panelsim/internal/observability"
)

const (
	minuteSpan = time.Minute
	daySpan    = 24 * time.Hour

	// DefaultMargin is added to every pacing wait so the oldest entry has
	// fully left the window by the time the wait ends.
	DefaultMargin = 500 * time.Millisecond
)

// Limits configures a Tracker.
type Limits struct {
	RPM    int
	RPD    int
	Margin time.Duration
}

// Status is a read-only snapshot of tracker usage.
type Status struct {
	RequestsToday          int     `json:"requests_today"`
	RequestsRemainingToday int     `json:"requests_remaining_today"`
	RPMCurrent             int     `json:"rpm_current"`
	RPMLimit               int     `json:"rpm_limit"`
	RPDLimit               int     `json:"rpd_limit"`
	QuotaPctUsed           float64 `json:"quota_pct_used"`
}

// Tracker paces admissions against a per-minute limit and counts them
// against a per-day budget. The daily budget is advisory.
type Tracker struct {
	rpmLimit int
	rpdLimit int
	margin   time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	// gate serializes admission decisions, including the pacing wait.
	gate chan struct{}

	mu       sync.RWMutex
	window   *window
	dayCount int
	dayStart time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTimer replaces the timer used for pacing waits.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(t *Tracker) {
		if after != nil {
			t.after = after
		}
	}
}

// NewTracker creates a tracker. Limits below one are raised to one.
func NewTracker(limits Limits, opts ...Option) *Tracker {
	if limits.RPM < 1 {
		limits.RPM = 1
	}
	if limits.RPD < 1 {
		limits.RPD = 1
	}
	if limits.Margin < 0 {
		limits.Margin = 0
	}

	t := &Tracker{
		rpmLimit: limits.RPM,
		rpdLimit: limits.RPD,
		margin:   limits.Margin,
		now:      func() time.Time { return time.Now().UTC() },
		after:    time.After,
		gate:     make(chan struct{}, 1),
		window:   newWindow(limits.RPM),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dayStart = t.now()
	return t
}

// RPMLimit returns the configured per-minute limit.
func (t *Tracker) RPMLimit() int { return t.rpmLimit }

// RPDLimit returns the configured per-day budget.
func (t *Tracker) RPDLimit() int { return t.rpdLimit }

// Admit blocks until a request may be sent under the per-minute limit, then
// records it. Only one caller decides at a time; the others queue behind the
// one that is waiting. An error is returned only when ctx ends first, in
// which case nothing is recorded.
func (t *Tracker) Admit(ctx context.Context) error {
	select {
	case t.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.gate }()

	for {
		wait, ok := t.pacing(t.now())
		if ok {
			break
		}

		metrics.RecordQuotaWait(wait)
		if logger := observability.Logger(); logger != nil {
			logger.Debug("Pacing admission under per-minute limit",
				zap.Duration("wait", wait),
				zap.Int("rpm_limit", t.rpmLimit))
		}

		select {
		case <-t.after(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.record(t.now())
	metrics.RecordQuotaAdmission(t.Status().RequestsToday)
	return nil
}

// pacing trims expired entries and returns how long to wait before the next
// admission. ok is true when there is room now.
func (t *Tracker) pacing(now time.Time) (wait time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window.Trim(now, minuteSpan)
	if !t.window.Full() {
		return 0, true
	}
	oldest, _ := t.window.Oldest()
	return minuteSpan - now.Sub(oldest) + t.margin, false
}

// record stores an admission. Admit only records after pacing found room
// while holding the gate, so a full window here is a broken invariant.
func (t *Tracker) record(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.window.Push(now) {
		panic("quota: admission recorded into a full minute window")
	}
	if now.Sub(t.dayStart) >= daySpan {
		t.dayCount = 0
		t.dayStart = now
	}
	t.dayCount++
}

// Status reports current usage without waiting or changing state. A day
// that has already elapsed reads as zero used until the next admission
// rolls it over.
func (t *Tracker) Status() Status {
	now := t.now()

	t.mu.RLock()
	used := t.dayCount
	if now.Sub(t.dayStart) >= daySpan {
		used = 0
	}
	current := t.window.CountSince(now, minuteSpan)
	t.mu.RUnlock()

	return Status{
		RequestsToday:          used,
		RequestsRemainingToday: max(0, t.rpdLimit-used),
		RPMCurrent:             current,
		RPMLimit:               t.rpmLimit,
		RPDLimit:               t.rpdLimit,
		QuotaPctUsed:           percentUsed(used, t.rpdLimit),
	}
}

// EffectiveConcurrency caps a requested worker count at half the per-minute
// limit, never below one.
func (t *Tracker) EffectiveConcurrency(requested int) int {
	return EffectiveConcurrency(requested, t.rpmLimit)
}

// EffectiveConcurrency returns min(requested, max(1, rpm/2)).
func EffectiveConcurrency(requested, rpm int) int {
	return min(requested, max(1, rpm/2))
}

func percentUsed(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(limit)*1000) / 10
}
