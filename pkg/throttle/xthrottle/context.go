package xthrottle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

const btreeDegree = 16

// bucket 共享同一窗口结束时间的调用方。
type bucket struct {
	window  int64
	callers map[string]*xcaller.CallerContext
}

func bucketLess(a, b *bucket) bool { return a.window < b.window }

// Context 一个节流策略实例的调用方集合。实现 xcaller.Registry。
type Context struct {
	id     string
	kind   xcaller.Kind
	holder *Holder

	mu             sync.Mutex
	callers        *btree.BTreeG[*bucket]
	keyToTimeStamp map[string]int64
	// fresh 已创建但尚未开启窗口的调用方，保证同一键只有一个对象。
	fresh map[string]*xcaller.CallerContext
	// idle 上次清理时仍未开启窗口的 fresh 条目，下次清理时仍未开启则驱逐。
	idle map[string]*xcaller.CallerContext

	nextCleanTime atomic.Int64
}

var _ xcaller.Registry = (*Context)(nil)

func newContext(id string, kind xcaller.Kind, h *Holder) *Context {
	return &Context{
		id:             id,
		kind:           kind,
		holder:         h,
		callers:        btree.NewG(btreeDegree, bucketLess),
		keyToTimeStamp: make(map[string]int64),
		fresh:          make(map[string]*xcaller.CallerContext),
		idle:           make(map[string]*xcaller.CallerContext),
	}
}

func (c *Context) ID() string         { return c.id }
func (c *Context) Kind() xcaller.Kind { return c.kind }

func (c *Context) logger() xlog.Logger { return c.holder.opts.logger }

// Len 返回已登记窗口的调用方数量。
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keyToTimeStamp)
}

// GetCallerContext 按调用方标识查找。集群模式下先查 Holder。
func (c *Context) GetCallerContext(callerID string) *xcaller.CallerContext {
	key := xcaller.Key(c.id, callerID)
	if c.holder.Clustering() {
		c.holder.mu.RLock()
		cc := c.holder.callers[key]
		c.holder.mu.RUnlock()
		if cc != nil {
			return cc
		}
	}
	return c.lookup(key)
}

func (c *Context) lookup(key string) *xcaller.CallerContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *Context) lookupLocked(key string) *xcaller.CallerContext {
	if window, ok := c.keyToTimeStamp[key]; ok {
		if b, found := c.callers.Get(&bucket{window: window}); found {
			if cc := b.callers[key]; cc != nil {
				return cc
			}
		}
	}
	return c.fresh[key]
}

// GetOrCreateCallerContext 查找调用方，不存在时创建。
//
// 新调用方在第一次 CanAccess 开启窗口时才进入时间索引。
func (c *Context) GetOrCreateCallerContext(callerID, roleID string) *xcaller.CallerContext {
	if cc := c.GetCallerContext(callerID); cc != nil {
		return cc
	}
	key := xcaller.Key(c.id, callerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc := c.lookupLocked(key); cc != nil {
		return cc
	}
	cc := xcaller.New(c.kind, c.id, callerID, roleID)
	c.fresh[key] = cc
	return cc
}

// AddCallerContext 按 NextTimeWindow 登记调用方。
func (c *Context) AddCallerContext(cc *xcaller.CallerContext) {
	c.mu.Lock()
	c.indexLocked(cc, cc.NextTimeWindow())
	c.mu.Unlock()
	c.holder.PutCaller(cc)
}

// indexLocked 把调用方放到 window 对应的桶，并移除旧位置。
func (c *Context) indexLocked(cc *xcaller.CallerContext, window int64) {
	key := cc.Key()
	c.unindexLocked(key)
	b, ok := c.callers.Get(&bucket{window: window})
	if !ok {
		b = &bucket{window: window, callers: make(map[string]*xcaller.CallerContext)}
		c.callers.ReplaceOrInsert(b)
	}
	b.callers[key] = cc
	c.keyToTimeStamp[key] = window
	delete(c.fresh, key)
}

func (c *Context) unindexLocked(key string) {
	window, ok := c.keyToTimeStamp[key]
	if !ok {
		return
	}
	delete(c.keyToTimeStamp, key)
	if b, found := c.callers.Get(&bucket{window: window}); found {
		delete(b.callers, key)
		if len(b.callers) == 0 {
			c.callers.Delete(b)
		}
	}
}

// RemoveCallerContext 从两套索引中删除调用方。
func (c *Context) RemoveCallerContext(cc *xcaller.CallerContext) {
	c.mu.Lock()
	key := cc.Key()
	if c.lookupLocked(key) == cc {
		c.unindexLocked(key)
		delete(c.fresh, key)
	}
	c.mu.Unlock()
	c.holder.RemoveCaller(cc)
}

// Lock 获取调用方键锁。
func (c *Context) Lock(ctx context.Context, key string) (xkeylock.Handle, error) {
	return c.holder.Locker().Acquire(ctx, key)
}

// AddAndFlushCallerContext 登记新窗口并标记窗口与计数待复制。
func (c *Context) AddAndFlushCallerContext(_ context.Context, cc *xcaller.CallerContext) {
	c.AddCallerContext(cc)
	c.holder.opts.flusher.MarkWindowDirty(cc.Key())
	c.holder.opts.flusher.MarkCounterDirty(cc.Key())
}

// FlushCallerContext 标记计数待复制。
func (c *Context) FlushCallerContext(_ context.Context, cc *xcaller.CallerContext) {
	c.holder.opts.flusher.MarkCounterDirty(cc.Key())
}

// ReplaceCallerContext 把调用方从旧窗口移到当前窗口并标记待复制。
func (c *Context) ReplaceCallerContext(_ context.Context, cc *xcaller.CallerContext, _ int64) {
	c.AddCallerContext(cc)
	c.holder.opts.flusher.MarkWindowDirty(cc.Key())
	c.holder.opts.flusher.MarkCounterDirty(cc.Key())
}

// RemoveAndFlushCaller 注销调用方。
func (c *Context) RemoveAndFlushCaller(_ context.Context, cc *xcaller.CallerContext) {
	c.RemoveCallerContext(cc)
	c.holder.opts.flusher.MarkCounterDirty(cc.Key())
}

// Reindex 把调用方移到其当前 NextTimeWindow，复制器采用共享窗口后调用。
// 调用方已被注销时不做任何事。
func (c *Context) Reindex(cc *xcaller.CallerContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keyToTimeStamp[cc.Key()]; !ok {
		return
	}
	if c.lookupLocked(cc.Key()) != cc {
		return
	}
	c.indexLocked(cc, cc.NextTimeWindow())
}

// ProcessCleanList 距上次扫描不足清理周期时直接返回，否则执行 CleanupCallers。
func (c *Context) ProcessCleanList(ctx context.Context, now int64) error {
	next := c.nextCleanTime.Load()
	if now < next {
		return nil
	}
	period := xclock.Millis(c.holder.opts.cleanPeriod)
	if !c.nextCleanTime.CompareAndSwap(next, now+period) {
		return nil
	}
	return c.CleanupCallers(ctx, now)
}

// CleanupCallers 扫描窗口结束时间 <= now 的桶，驱逐通过 CleanUp 复核的调用方。
// 连续两次清理之间始终未开启窗口的调用方（无限制规则、取锁失败）一并丢弃。
//
// 索引不一致的条目记录为 *xcaller.CorruptionError 后丢弃，扫描继续；
// 所有损坏错误合并返回。
func (c *Context) CleanupCallers(ctx context.Context, now int64) error {
	var (
		errs    []error
		evicted []*xcaller.CallerContext
		moved   []*xcaller.CallerContext
		empty   []*bucket
	)

	c.mu.Lock()
	c.callers.AscendLessThan(&bucket{window: now + 1}, func(b *bucket) bool {
		for key, cc := range b.callers {
			if err := c.checkEntryLocked(b, key, cc); err != nil {
				errs = append(errs, err)
				delete(b.callers, key)
				continue
			}
			switch {
			case cc.CleanUp(now):
				delete(b.callers, key)
				delete(c.keyToTimeStamp, key)
				evicted = append(evicted, cc)
			case cc.NextTimeWindow() != b.window:
				// 已开启新窗口但仍挂在旧桶，移到正确位置。
				moved = append(moved, cc)
			}
		}
		if len(b.callers) == 0 {
			empty = append(empty, b)
		}
		return true
	})
	for _, b := range empty {
		c.callers.Delete(b)
	}
	for _, cc := range moved {
		c.indexLocked(cc, cc.NextTimeWindow())
	}
	dropped := c.sweepIdleLocked()
	c.mu.Unlock()

	for _, cc := range evicted {
		c.holder.RemoveCaller(cc)
	}
	for _, err := range errs {
		c.logger().Warn(ctx, "dropping corrupted caller entry",
			xlog.PolicyID(c.id), xlog.Err(err))
	}
	if len(evicted) > 0 {
		c.logger().Debug(ctx, "evicted expired callers",
			xlog.PolicyID(c.id), xlog.Count(len(evicted)))
	}
	if dropped > 0 {
		c.logger().Debug(ctx, "dropped idle callers",
			xlog.PolicyID(c.id), xlog.Count(dropped))
	}
	return errors.Join(errs...)
}

// sweepIdleLocked 丢弃上一轮已记下且仍未开启窗口的 fresh 条目，再记下本轮的。
func (c *Context) sweepIdleLocked() int {
	dropped := 0
	for key, cc := range c.idle {
		if c.fresh[key] == cc && cc.FirstAccessTime() == 0 {
			delete(c.fresh, key)
			dropped++
		}
	}
	clear(c.idle)
	for key, cc := range c.fresh {
		if cc.FirstAccessTime() == 0 {
			c.idle[key] = cc
		}
	}
	return dropped
}

// checkEntryLocked 校验桶内条目与按键索引一致。
func (c *Context) checkEntryLocked(b *bucket, key string, cc *xcaller.CallerContext) error {
	if cc == nil {
		return xcaller.NewCorruptionError(callerIDOf(c.id, key), "nil caller in time index")
	}
	window, ok := c.keyToTimeStamp[key]
	if !ok {
		return xcaller.NewCorruptionError(cc.ID(), "caller in time index is missing from id index")
	}
	if window != b.window {
		return xcaller.NewCorruptionError(cc.ID(), "caller indexed under two windows")
	}
	return nil
}

func callerIDOf(policyID, key string) string {
	if len(key) > len(policyID)+1 && key[:len(policyID)] == policyID {
		return key[len(policyID)+1:]
	}
	return key
}
