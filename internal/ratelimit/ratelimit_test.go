package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreCheckRateLimitWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))

	assert.False(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute))
	assert.False(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute))
	assert.False(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute))
	assert.True(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute))
	assert.True(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute), "rejections keep being rejected")

	assert.False(t, store.CheckRateLimit("5.6.7.8", 3, time.Minute), "keys are independent")

	clock.Advance(time.Minute)
	assert.False(t, store.CheckRateLimit("1.2.3.4", 3, time.Minute), "new window after reset")
}

func TestMemoryStoreRejectionDoesNotIncrement(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = store.Hit(ctx, "k", 1, time.Minute)
	d, err := store.Hit(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Exceeded)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestMemoryStoreWindowIsFixed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	first, _ := store.Hit(ctx, "k", 5, time.Minute)
	clock.Advance(30 * time.Second)
	second, _ := store.Hit(ctx, "k", 5, time.Minute)
	assert.Equal(t, first.ResetAt, second.ResetAt, "later hits do not extend the window")
}

func TestMemoryStoreConcurrentHitsNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore()
	const max = 50

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := store.Hit(context.Background(), "ip", max, time.Hour)
			if !d.Exceeded {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(max), allowed.Load())
}

func TestMemoryStorePrune(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = store.Hit(ctx, "a", 1, time.Second)
	_, _ = store.Hit(ctx, "b", 1, time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, store.Prune())
	assert.Equal(t, 1, store.Len())
}

func TestLimiterPrefixesKeys(t *testing.T) {
	store := NewMemoryStore()
	global := New(store, "global:", 1, time.Minute)
	orders := New(store, "orders:", 1, time.Minute)
	ctx := context.Background()

	d, _ := global.Allow(ctx, "ip")
	assert.False(t, d.Exceeded)
	d, _ = orders.Allow(ctx, "ip")
	assert.False(t, d.Exceeded, "separate namespaces")
	d, _ = global.Allow(ctx, "ip")
	assert.True(t, d.Exceeded)
}

func TestLimiterRetryAfterRoundsUp(t *testing.T) {
	assert.Equal(t, 60, New(nil, "", 1, time.Minute).RetryAfterSeconds())
	assert.Equal(t, 2, New(nil, "", 1, 1500*time.Millisecond).RetryAfterSeconds())
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreFixedWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := store.Hit(ctx, "ip", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Exceeded)
		assert.Equal(t, i, d.Count)
	}

	d, err := store.Hit(ctx, "ip", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Exceeded)
	assert.Equal(t, 3, d.Count)

	mr.FastForward(time.Minute)

	d, err = store.Hit(ctx, "ip", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Exceeded)
	assert.Equal(t, 1, d.Count)
}

func TestRedisStoreSetsTTLOnFirstHit(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := store.Hit(context.Background(), "ip", 10, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:ip"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Hit(context.Background(), "ip", 1, time.Minute)
	assert.Error(t, err)
}
