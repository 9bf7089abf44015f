// Package ratelimit implements fixed-window request limiting, backed by Redis
// when available and by an in-process cache otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func windowKey(prefix, key string, winStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

func result(hits, max int64, winEnd, now time.Time) Result {
	res := Result{Allowed: hits <= max, Limit: max, Remaining: max - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = winEnd.Sub(now)
	}
	return res
}

// RedisLimiter counts hits with INCR and expires the window key with EXPIRE.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	k := windowKey(l.prefix, key, winStart)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return result(incr.Val(), l.max, winStart.Add(l.window), now), nil
}

// MemoryLimiter keeps per-window counters in a go-cache instance. Counters of
// past windows expire on their own.
type MemoryLimiter struct {
	cache  *gocache.Cache
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		cache:  gocache.New(window, 2*window),
		prefix: "rl:",
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	k := windowKey(l.prefix, key, winStart)

	if err := l.cache.Add(k, int64(1), l.window); err == nil {
		return result(1, l.max, winStart.Add(l.window), now), nil
	}
	hits, err := l.cache.IncrementInt64(k, 1)
	if err != nil {
		// the window expired between Add and Increment; start a new one
		l.cache.Set(k, int64(1), l.window)
		hits = 1
	}
	return result(hits, l.max, winStart.Add(l.window), now), nil
}

// Options select and size the limiter.
type Options struct {
	RedisAddr string
	Requests  int
	Window    time.Duration
}

// New returns a Redis-backed limiter when RedisAddr is set, else an
// in-process one. A non-positive Requests disables limiting (nil Limiter).
// The returned close function releases the Redis client.
func New(ctx context.Context, o Options) (Limiter, func() error, error) {
	if o.Requests <= 0 || o.Window <= 0 {
		return nil, func() error { return nil }, nil
	}
	if o.RedisAddr == "" {
		return NewMemoryLimiter(o.Requests, o.Window), func() error { return nil }, nil
	}

	client := rdb.NewClient(&rdb.Options{Addr: o.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", o.RedisAddr, err)
	}
	return NewRedisLimiter(client, "modernapi:rl:", o.Requests, o.Window), client.Close, nil
}
