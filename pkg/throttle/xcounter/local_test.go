package xcounter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLocal(t *testing.T, opts ...Option) (*localStore, *xclock.Manual) {
	t.Helper()
	clock := xclock.NewManual(1_000)
	o, err := applyOptions(append([]Option{WithClock(clock)}, opts...))
	require.NoError(t, err)
	return newLocal(o), clock
}

func TestLocal_CounterLifecycle(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	v, err := s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = s.AddAndGetCounter(ctx, "p:c", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	require.NoError(t, s.SetCounter(ctx, "p:c", 10))
	v, err = s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	require.NoError(t, s.RemoveCounter(ctx, "p:c"))
	v, err = s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestLocal_TimestampsAreSeparateFromCounters(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.SetTimestamp(ctx, "p:c", 5_000))
	require.NoError(t, s.SetCounter(ctx, "p:c", 2))

	ts, err := s.GetTimestamp(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), ts)

	ts, err = s.AddAndGetTimestamp(ctx, "p:c", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5_100), ts)

	require.NoError(t, s.RemoveTimestamp(ctx, "p:c"))
	c, err := s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c)
}

func TestLocal_ExpiryAndTTL(t *testing.T) {
	s, clock := newTestLocal(t)
	ctx := context.Background()

	ttl, err := s.GetTTL(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, NotFound, ttl)

	require.NoError(t, s.SetCounter(ctx, "p:c", 1))
	ttl, err = s.GetTTL(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, NoExpiry, ttl)

	require.NoError(t, s.SetCounterWithExpiry(ctx, "p:c", 7, time.Second))
	require.NoError(t, clock.Advance(400*time.Millisecond))
	ttl, err = s.GetTTL(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, 600*time.Millisecond, ttl)

	// 加减保留原过期时间
	_, err = s.AddAndGetCounter(ctx, "p:c", 1)
	require.NoError(t, err)

	require.NoError(t, clock.Advance(600*time.Millisecond))
	v, err := s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestLocal_AsyncReturnsPreviousValue(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.SetCounter(ctx, "p:c", 4))

	prev, err := s.AsyncGetAndAddCounter(ctx, "p:c", 3).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), prev)

	prev, err = s.AsyncGetAndAlterCounter(ctx, "p:c", func(cur int64) int64 { return cur * 2 }).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), prev)

	v, err := s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, int64(14), v)

	_, err = s.AsyncGetAndAlterCounter(ctx, "p:c", nil).Get(ctx)
	assert.ErrorIs(t, err, ErrNilFunc)
}

func TestLocal_ConcurrentAdd(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddAndGetCounter(ctx, "p:c", 1)
		}()
	}
	wg.Wait()

	v, err := s.GetCounter(ctx, "p:c")
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
}

func TestLocal_LockAndRelease(t *testing.T) {
	s, clock := newTestLocal(t, WithLockTimeout(20*time.Millisecond))
	ctx := context.Background()

	ok, err := s.LockSharedKeys(ctx, "p:c", "node-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.LockSharedKeys(ctx, "p:c", "node-b")
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := s.ReleaseSharedKeys(ctx, "p:c", "node-b")
	require.NoError(t, err)
	assert.False(t, released, "wrong value must not release")

	released, err = s.ReleaseSharedKeys(ctx, "p:c", "node-a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = s.LockSharedKeys(ctx, "p:c", "node-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// 锁过期后其他持有者可以获取
	require.NoError(t, clock.Advance(DefaultLockExpiry))
	ok, err = s.LockSharedKeys(ctx, "p:c", "node-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocal_LockTimeoutFallback(t *testing.T) {
	const (
		timeout  = 100 * time.Millisecond
		interval = 5 * time.Millisecond
	)
	s, err := NewLocal(WithLockTimeout(timeout), WithRetryInterval(interval), WithLockExpiry(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.LockSharedKeys(ctx, "p:c", "holder")
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = s.LockSharedKeys(ctx, "p:c", "waiter")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, timeout-interval)
	assert.Less(t, elapsed, timeout+20*interval)
}

func TestLocal_LockCanceledContext(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	ok, err := s.LockSharedKeys(ctx, "p:c", "a")
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	ok, err = s.LockSharedKeys(ctx, "p:c", "b")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_ListKeys(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.SetCounter(ctx, "p:b", 1))
	require.NoError(t, s.SetCounter(ctx, "p:a", 1))
	require.NoError(t, s.SetTimestamp(ctx, "p:a", 1))
	_, err := s.LockSharedKeys(ctx, "p:a", "v")
	require.NoError(t, err)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Kind: KindCounter, Key: "p:a"},
		{Kind: KindCounter, Key: "p:b"},
		{Kind: KindTimestamp, Key: "p:a"},
	}, keys)
}

func TestLocal_ValidationAndClose(t *testing.T) {
	_, err := NewLocal(WithLockTimeout(0))
	require.ErrorIs(t, err, ErrInvalidOption)

	s, _ := newTestLocal(t)
	ctx := context.Background()
	assert.False(t, s.IsEnabled())
	assert.Equal(t, TypeLocal, s.Type())

	_, err = s.GetCounter(ctx, "")
	require.ErrorIs(t, err, ErrEmptyKey)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Close(), ErrClosed)
	_, err = s.GetCounter(ctx, "p:c")
	require.ErrorIs(t, err, ErrClosed)
}

func TestParseKey(t *testing.T) {
	e, ok := ParseKey(CounterKey("p:c"))
	require.True(t, ok)
	assert.Equal(t, Entry{Kind: KindCounter, Key: "p:c"}, e)

	e, ok = ParseKey(TimestampKey("p:c"))
	require.True(t, ok)
	assert.Equal(t, KindTimestamp, e.Kind)
	assert.Equal(t, "timestamp", e.Kind.String())

	_, ok = ParseKey(LockKey("p:c"))
	assert.False(t, ok)
}
