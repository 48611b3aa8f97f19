package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"
)

// ClientLimiter hands out one token bucket per client key and forgets
// clients that have been idle for longer than the idle TTL.
type ClientLimiter struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	return &ClientLimiter{
		entries: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// Reserve takes a token for key. It returns zero when the request may
// proceed, or how long the client should wait otherwise.
func (c *ClientLimiter) Reserve(key string) time.Duration {
	now := c.now()

	c.mu.Lock()
	ent, ok := c.entries[key]
	if !ok {
		ent = &clientEntry{lim: rate.NewLimiter(c.rps, c.burst)}
		c.entries[key] = ent
	}
	ent.lastSeen = now
	c.mu.Unlock()

	if ent.lim.AllowN(now, 1) {
		return 0
	}
	r := ent.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay <= 0 {
		delay = time.Second
	}
	return delay
}

// Cleanup drops clients idle for longer than the idle TTL.
func (c *ClientLimiter) Cleanup() {
	cutoff := c.now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx ends.
func (c *ClientLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}

// ClientKey identifies the caller by the first X-Forwarded-For hop, then
// the remote address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// LimitedFunc writes the response for a throttled request. wait is how
// long the client should back off.
type LimitedFunc func(w http.ResponseWriter, r *http.Request, wait time.Duration)

// Throttle rejects callers that exceed their token bucket. onLimited writes
// the rejection; nil writes a plain 429 envelope.
func Throttle(limiter *ClientLimiter, onLimited LimitedFunc) func(http.Handler) http.Handler {
	if onLimited == nil {
		onLimited = writeLimited
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait := limiter.Reserve(ClientKey(r)); wait > 0 {
				onLimited(w, r, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	env := errors.NewErrorEnvelope("RATE_LIMITED", "too many bulk requests from this client").
		WithCorrelationID(GetRequestID(r.Context()))
	writeErrorResponse(w, env, http.StatusTooManyRequests)
}
