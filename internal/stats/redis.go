package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps counters in hashes so several processes can share them.
// The total hash never expires; day and prefecture hashes use the TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "panelsim:stats",
		ttl:    30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := fieldFor(ev.Failure)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.totalKey(), field, 1)

	dayKey := fmt.Sprintf("%s:day:%s", r.prefix, dayKey(at))
	pipe.HIncrBy(ctx, dayKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, dayKey, r.ttl)
	}

	if p := strings.TrimSpace(ev.Prefecture); p != "" {
		pipe.HIncrBy(ctx, r.prefix+":prefecture", p+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Totals(ctx context.Context) (Counters, error) {
	var c Counters
	if r == nil || r.rdb == nil {
		return c, nil
	}
	values, err := r.rdb.HGetAll(ctx, r.totalKey()).Result()
	if err != nil {
		return c, fmt.Errorf("read stats totals: %w", err)
	}
	for field, raw := range values {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		c.add(field, n)
	}
	return c, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *Redis) totalKey() string {
	return r.prefix + ":total"
}

func dayKey(at time.Time) string {
	return at.UTC().Format("20060102")
}
