package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter checks and consumes one token from the named bucket
// ("provider:twilio", "tenant:acme", "domain:gmail.com"), returning
// the wait before a retry should the bucket be empty (§4.8 worker
// loop step 2, §5 "Rate-limit token buckets: one bucket per key;
// operations are atomic swap").
type RateLimiter interface {
	Allow(ctx context.Context, key string, perMinute int) (ok bool, retryAfter time.Duration, err error)
}

// MemoryRateLimiter keeps one golang.org/x/time/rate.Limiter per key,
// the same lazily-created, mutex-guarded map pattern the pack's
// connection rate limiter uses for per-IP buckets.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryRateLimiter constructs a process-local limiter. Suitable
// for a single replica; use NewRedisRateLimiter when DeliveryConfig's
// RedisAddr is set so multiple replicas share buckets.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, time.Duration, error) {
	lim := m.limiterFor(key, perMinute)
	r := lim.Reserve()
	if !r.OK() {
		return false, 0, fmt.Errorf("delivery: rate limit burst for %q too small for one token", key)
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

func (m *MemoryRateLimiter) limiterFor(key string, perMinute int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(perMinute) / 60.0)
		lim = rate.NewLimiter(perSecond, maxInt(perMinute/10, 1))
		m.limiters[key] = lim
	}
	return lim
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RedisRateLimiter implements the same per-key token bucket as
// MemoryRateLimiter but shares its counters across replicas via a
// fixed-window INCR+EXPIRE in Redis, the pack's established go-redis
// client-construction pattern applied to counting instead of caching.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter connects to addr and verifies reachability with
// a bounded-timeout PING, mirroring the pack's RedisDedupeStore
// constructor.
func NewRedisRateLimiter(addr string) (*RedisRateLimiter, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisRateLimiter{client: c}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, time.Duration, error) {
	now := time.Now()
	window := now.Truncate(time.Minute)
	windowKey := fmt.Sprintf("delivery:ratelimit:%s:%d", key, window.Unix())

	count, err := r.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, windowKey, time.Minute).Err(); err != nil {
			return false, 0, err
		}
	}
	if int(count) > perMinute {
		retryAfter := window.Add(time.Minute).Sub(now)
		return false, retryAfter, nil
	}
	return true, 0, nil
}
