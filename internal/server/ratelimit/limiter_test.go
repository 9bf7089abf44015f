package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestMemoryLimiter(max int, window time.Duration, now *time.Time) *MemoryLimiter {
	l := NewMemoryLimiter(max, window)
	l.now = func() time.Time { return *now }
	return l
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := t0.Add(10 * time.Second)
	l := newTestMemoryLimiter(3, time.Minute, &now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(3-i), res.Remaining)
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	// other keys have their own budget
	res, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	now = t0.Add(time.Minute)
	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a new window resets the counter")
	assert.Equal(t, int64(2), res.Remaining)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	now := t0
	l := newTestMemoryLimiter(10, time.Minute, &now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "k")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestWindowKey(t *testing.T) {
	assert.Equal(t, "rl:login_1.2.3.4:1777622400", windowKey("rl:", "login 1.2.3.4", t0))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	l, closeFn, err := New(ctx, Options{Requests: 0, Window: time.Minute})
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, closeFn())

	l, closeFn, err = New(ctx, Options{Requests: 5, Window: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)
	assert.NoError(t, closeFn())

	_, _, err = New(ctx, Options{RedisAddr: "127.0.0.1:1", Requests: 5, Window: time.Minute})
	assert.Error(t, err)
}

func TestRedisLimiter_ErrorWhenUnreachable(t *testing.T) {
	client := rdb.NewClient(&rdb.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	l := NewRedisLimiter(client, "", 1, time.Minute)
	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}
