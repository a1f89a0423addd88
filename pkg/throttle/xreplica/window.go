package xreplica

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

// WindowReplicator 对齐各节点同一调用方的窗口起点。
type WindowReplicator struct {
	store   xcounter.Store
	callers Callers
	locker  xkeylock.Locker
	opts    *options
}

// NewWindowReplicator 创建窗口复制器。
func NewWindowReplicator(store xcounter.Store, callers Callers, locker xkeylock.Locker, opts ...Option) (*WindowReplicator, error) {
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
	return &WindowReplicator{store: store, callers: callers, locker: locker, opts: o}, nil
}

// Replicate 复制单个调用方的窗口。
//
// 共享时间戳 shared 与窗口长度 unit 确定集群窗口 [shared, shared+unit)。
// 本地起点早于该窗口结束时采用集群窗口与分布式计数；否则本节点发起新窗口：
// 写入本地起点并把分布式计数清零。共享锁获取超时后不加锁继续。
func (r *WindowReplicator) Replicate(ctx context.Context, key string) error {
	h, err := r.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = h.Unlock() }()

	cc := r.callers.Caller(key)
	if cc == nil {
		return nil
	}
	start := cc.FirstAccessTime()
	unit := cc.NextTimeWindow() - start
	if start == 0 || unit <= 0 {
		return nil
	}

	value := uuid.NewString()
	locked, err := r.store.LockSharedKeys(ctx, key, value)
	if err != nil {
		return err
	}
	if locked {
		defer func() {
			if _, err := r.store.ReleaseSharedKeys(context.WithoutCancel(ctx), key, value); err != nil {
				r.opts.logger.Warn(ctx, "release shared lock failed", xlog.Key(key), xlog.Err(err))
			}
		}()
	} else {
		r.opts.logger.Warn(ctx, "shared lock timeout, replicating window unlocked", xlog.Key(key))
	}

	shared, err := r.store.GetTimestamp(ctx, key)
	if err != nil {
		return err
	}
	if shared > 0 && start < shared+unit {
		global, err := r.store.GetCounter(ctx, key)
		if err != nil {
			return err
		}
		cc.AdoptWindow(shared, unit, global)
		r.callers.Reindex(cc)
		r.opts.logger.Debug(ctx, "adopted shared window",
			xlog.Key(key), slog.Int64("start", shared), slog.Int64("global", global))
		return nil
	}

	if err := r.store.SetTimestamp(ctx, key, start); err != nil {
		return err
	}
	if err := r.store.SetCounter(ctx, key, 0); err != nil {
		return err
	}
	cc.AuthorWindow()
	if r.opts.counters != nil {
		r.opts.counters.Mark(key)
	}
	r.opts.logger.Debug(ctx, "authored shared window", xlog.Key(key), slog.Int64("start", start))
	return nil
}
