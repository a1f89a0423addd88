package xthrottle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const base int64 = 1_700_000_000_000

type recordingFlusher struct {
	mu       sync.Mutex
	counters []string
	windows  []string
}

func (f *recordingFlusher) MarkCounterDirty(key string) {
	f.mu.Lock()
	f.counters = append(f.counters, key)
	f.mu.Unlock()
}

func (f *recordingFlusher) MarkWindowDirty(key string) {
	f.mu.Lock()
	f.windows = append(f.windows, key)
	f.mu.Unlock()
}

func newTestHolder(t *testing.T, opts ...Option) *Holder {
	t.Helper()
	h := NewHolder()
	require.NoError(t, h.Init(opts...))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

var policy = &xcaller.Policy{MaxRequests: 2, UnitTime: time.Second}

func admit(t *testing.T, c *Context, callerID string, now int64) bool {
	t.Helper()
	cc := c.GetOrCreateCallerContext(callerID, "")
	ok, err := cc.CanAccess(context.Background(), policy, c, now)
	require.NoError(t, err)
	return ok
}

func TestContext_GetOrCreateIsUnique(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	var wg sync.WaitGroup
	got := make([]*xcaller.CallerContext, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.GetOrCreateCallerContext("10.0.0.1", "")
		}()
	}
	wg.Wait()
	for _, cc := range got {
		assert.Same(t, got[0], cc)
	}
	assert.Equal(t, "p:10.0.0.1", got[0].Key())
	assert.Zero(t, c.Len(), "caller enters the time index on first access")
}

func TestContext_FirstAccessRegistersAndFlushes(t *testing.T) {
	f := &recordingFlusher{}
	h := newTestHolder(t, WithFlusher(f))
	c := h.Context("p", xcaller.KindIP)

	require.True(t, admit(t, c, "a", base))
	require.True(t, admit(t, c, "a", base+10))
	require.False(t, admit(t, c, "a", base+20))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"p:a"}, f.windows)
	assert.Len(t, f.counters, 4, "registration, two admissions and the first denial")
	cc := c.GetCallerContext("a")
	require.NotNil(t, cc)
	assert.Equal(t, base+1000, c.keyToTimeStamp[cc.Key()])
}

func TestContext_ResetMovesBucket(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	admit(t, c, "a", base+1)
	require.False(t, admit(t, c, "a", base+2))
	// 窗口结束且禁止期已过，重置后进入新桶。
	require.True(t, admit(t, c, "a", base+1500))

	assert.Equal(t, base+2500, c.keyToTimeStamp["p:a"])
	assert.Equal(t, 1, c.callers.Len())
}

func TestContext_BonusAccessDeregisters(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	first := c.GetCallerContext("a")
	require.True(t, admit(t, c, "a", base+1500))
	assert.Zero(t, c.Len())
	assert.Nil(t, c.GetCallerContext("a"))

	second := c.GetOrCreateCallerContext("a", "")
	assert.NotSame(t, first, second)
}

func TestContext_CleanupEvictsExpired(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	admit(t, c, "b", base+500)

	require.NoError(t, c.CleanupCallers(context.Background(), base+1000))
	assert.Nil(t, c.GetCallerContext("a"))
	assert.NotNil(t, c.GetCallerContext("b"))

	require.NoError(t, c.CleanupCallers(context.Background(), base+2000))
	assert.Zero(t, c.Len())
	assert.Zero(t, c.callers.Len())
}

func TestContext_CleanupDropsIdleCallers(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)
	ctx := context.Background()

	unlimited := c.GetOrCreateCallerContext("free", "")
	ok, err := unlimited.CanAccess(ctx, &xcaller.Policy{UnitTime: time.Second}, c, base)
	require.NoError(t, err)
	require.True(t, ok)
	c.GetOrCreateCallerContext("abandoned", "")

	// 第一次清理只记下，第二次清理时仍未开启窗口才丢弃。
	require.NoError(t, c.CleanupCallers(ctx, base))
	assert.NotNil(t, c.GetCallerContext("free"))

	late := c.GetOrCreateCallerContext("late", "")
	admit(t, c, "abandoned", base+10)

	require.NoError(t, c.CleanupCallers(ctx, base+20))
	assert.Nil(t, c.GetCallerContext("free"))
	assert.NotNil(t, c.GetCallerContext("abandoned"), "started caller is kept")
	assert.Same(t, late, c.GetCallerContext("late"), "caller created after the last sweep is kept")

	require.NoError(t, c.CleanupCallers(ctx, base+30))
	assert.Nil(t, c.GetCallerContext("late"))
	assert.Empty(t, c.fresh)
	assert.Equal(t, 1, c.Len())
}

func TestContext_CleanupKeepsProhibited(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)
	p := &xcaller.Policy{MaxRequests: 1, UnitTime: time.Second, ProhibitTime: 5 * time.Second}

	cc := c.GetOrCreateCallerContext("a", "")
	ok, err := cc.CanAccess(context.Background(), p, c, base)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = cc.CanAccess(context.Background(), p, c, base+100)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.CleanupCallers(context.Background(), base+2000))
	assert.Same(t, cc, c.GetCallerContext("a"), "prohibited caller must survive")
}

func TestContext_CleanupSafetyRearmedCaller(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	cc := c.GetCallerContext("a")
	require.NotNil(t, cc)

	// 复制器采用了新窗口，但还没来得及重建索引。
	cc.AdoptWindow(base+1100, 1000, 1)

	require.NoError(t, c.CleanupCallers(context.Background(), base+1500))
	assert.Same(t, cc, c.GetCallerContext("a"))
	assert.Equal(t, base+2100, c.keyToTimeStamp["p:a"])
	_, stale := c.callers.Get(&bucket{window: base + 1000})
	assert.False(t, stale)
}

func TestContext_CleanupReportsCorruption(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	admit(t, c, "b", base)
	c.mu.Lock()
	delete(c.keyToTimeStamp, "p:a")
	c.mu.Unlock()

	err := c.CleanupCallers(context.Background(), base+1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, xcaller.ErrStateCorrupted)
	var ce *xcaller.CorruptionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "a", ce.CallerID)

	// 损坏条目被丢弃，其余调用方照常驱逐。
	assert.Zero(t, c.callers.Len())
	assert.Zero(t, c.Len())
}

func TestContext_ProcessCleanListGated(t *testing.T) {
	h := newTestHolder(t, WithCleanPeriod(time.Minute))
	c := h.Context("p", xcaller.KindIP)
	ctx := context.Background()

	require.NoError(t, c.ProcessCleanList(ctx, base))
	admit(t, c, "a", base)

	// 在清理周期内不扫描。
	require.NoError(t, c.ProcessCleanList(ctx, base+30_000))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.ProcessCleanList(ctx, base+60_000))
	assert.Zero(t, c.Len())
}

func TestContext_ReindexIgnoresRemoved(t *testing.T) {
	h := newTestHolder(t)
	c := h.Context("p", xcaller.KindIP)

	admit(t, c, "a", base)
	cc := c.GetCallerContext("a")
	cc.AdoptWindow(base+200, 1000, 0)
	c.Reindex(cc)
	assert.Equal(t, base+1200, c.keyToTimeStamp["p:a"])

	c.RemoveCallerContext(cc)
	c.Reindex(cc)
	assert.Zero(t, c.Len())
}
