package xreplica

import (
	"context"
	"log/slog"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

// Callers 调用方来源，通常是 xthrottle.Holder。
type Callers interface {
	Caller(key string) *xcaller.CallerContext
	Reindex(cc *xcaller.CallerContext)
}

// Broadcaster 把调用方快照发给集群其他节点，失败由实现者自行记录。
type Broadcaster interface {
	BroadcastCaller(ctx context.Context, s xcaller.Snapshot)
}

// CounterReplicator 把调用方的本地增量合并到分布式计数。
type CounterReplicator struct {
	store   xcounter.Store
	callers Callers
	locker  xkeylock.Locker
	opts    *options
}

// NewCounterReplicator 创建计数复制器。locker 必须与 CanAccess 使用同一把键锁。
func NewCounterReplicator(store xcounter.Store, callers Callers, locker xkeylock.Locker, opts ...Option) (*CounterReplicator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if callers == nil {
		return nil, ErrNilCallers
	}
	if locker == nil {
		return nil, ErrNilLocker
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &CounterReplicator{store: store, callers: callers, locker: locker, opts: o}, nil
}

// Replicate 复制单个调用方。
//
// 调用方已被驱逐、没有本地增量或窗口已结束时不做任何事，因此对同一状态
// 重复调用不会重复计数。存储失败时本地增量加回调用方并返回错误；
// 取消 ctx 不会中断已发出的增量。
func (r *CounterReplicator) Replicate(ctx context.Context, key string) error {
	h, err := r.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = h.Unlock() }()

	cc := r.callers.Caller(key)
	if cc == nil {
		return nil
	}
	now := r.opts.clock.NowMillis()
	if cc.LocalCounter() <= 0 || cc.NextTimeWindow() <= now {
		return nil
	}

	snap := cc.SnapshotAndReset()
	// 存储操作不随 ctx 取消，等到确定结果再决定是否加回增量；等待时长由存储的单次超时约束。
	prev, err := r.store.AsyncGetAndAddCounter(ctx, key, snap.LocalCounter).Get(context.WithoutCancel(ctx))
	if err != nil {
		cc.RestoreLocal(snap.LocalCounter)
		return err
	}
	cc.SetGlobalCounter(prev + snap.LocalCounter)

	r.opts.logger.Debug(ctx, "counter replicated",
		xlog.Key(key), slog.Int64("local", snap.LocalCounter), slog.Int64("global", prev+snap.LocalCounter))

	if r.opts.broadcaster != nil {
		r.opts.broadcaster.BroadcastCaller(ctx, cc.Snapshot())
	}
	return nil
}
