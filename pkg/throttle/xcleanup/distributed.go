package xcleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/omeyang/xthrottle/pkg/distributed/xcron"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

// Report 一轮分布式清理的结果。
type Report struct {
	Scanned           int
	TimestampsRemoved int
	CountersRemoved   int
}

// DistributedCleaner 清理计数存储中的过期时间戳与孤儿计数器。
type DistributedCleaner struct {
	store xcounter.Store
	opts  *options
}

var _ xcron.Job = (*DistributedCleaner)(nil)

// NewDistributedCleaner 创建分布式清理任务。
func NewDistributedCleaner(store xcounter.Store, opts ...Option) (*DistributedCleaner, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &DistributedCleaner{store: store, opts: o}, nil
}

// Run 实现 xcron.Job。
func (c *DistributedCleaner) Run(ctx context.Context) error {
	_, err := c.Clean(ctx)
	return err
}

// Clean 执行一轮清理。
//
// 先删除早于 now-timestampExpiry 的时间戳，再删除与已删时间戳配对或没有
// 时间戳的计数器，两个阶段各自受删除上限约束。单个键的失败记录后继续。
func (c *DistributedCleaner) Clean(ctx context.Context) (Report, error) {
	entries, err := c.store.ListKeys(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Scanned: len(entries)}
	cutoff := c.opts.clock.NowMillis() - xclock.Millis(c.opts.timestampExpiry)

	timestamps := make(map[string]bool)
	var counters []string
	for _, e := range entries {
		switch e.Kind {
		case xcounter.KindTimestamp:
			timestamps[e.Key] = false
		case xcounter.KindCounter:
			counters = append(counters, e.Key)
		}
	}

	var errs []error
	for _, e := range entries {
		if e.Kind != xcounter.KindTimestamp {
			continue
		}
		if rep.TimestampsRemoved >= c.opts.maxRemovals || ctx.Err() != nil {
			break
		}
		ts, err := c.store.GetTimestamp(ctx, e.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// 读为 0 说明已被其他节点删除，按已删除处理。
		if ts >= cutoff {
			continue
		}
		if err := c.store.RemoveTimestamp(ctx, e.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		timestamps[e.Key] = true
		rep.TimestampsRemoved++
	}

	for _, key := range counters {
		if rep.CountersRemoved >= c.opts.maxRemovals || ctx.Err() != nil {
			break
		}
		removed, paired := timestamps[key]
		if paired && !removed {
			continue
		}
		if err := c.store.RemoveCounter(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.CountersRemoved++
	}

	if rep.TimestampsRemoved+rep.CountersRemoved > 0 {
		c.opts.logger.Info(ctx, "distributed cleanup removed stale entries",
			xlog.Count(rep.Scanned),
			xlog.Backend(string(c.store.Type())),
			slog.Int("timestamps", rep.TimestampsRemoved),
			slog.Int("counters", rep.CountersRemoved))
	}
	return rep, errors.Join(errs...)
}

// StoreLocker 用计数存储的共享锁实现 xcron.Locker。
//
// 锁的存活时间由存储的 LockExpiry 决定，ttl 参数不生效。
type StoreLocker struct {
	store xcounter.Store
	value func() string
}

var _ xcron.Locker = (*StoreLocker)(nil)

// NewStoreLocker 创建任务锁，value 生成每次加锁的唯一值。
func NewStoreLocker(store xcounter.Store, value func() string) (*StoreLocker, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if value == nil {
		return nil, ErrInvalidOption
	}
	return &StoreLocker{store: store, value: value}, nil
}

// TryLock 实现 xcron.Locker，锁被占用时返回 (nil, nil)。
func (l *StoreLocker) TryLock(ctx context.Context, key string, _ time.Duration) (xcron.LockHandle, error) {
	h := &storeHandle{store: l.store, key: jobLockKey(key), value: l.value()}
	ok, err := l.store.LockSharedKeys(ctx, h.key, h.value)
	if err != nil || !ok {
		return nil, err
	}
	return h, nil
}

// jobLockKey 任务锁键不含冒号，不会与 <policyID>:<callerID> 冲突。
func jobLockKey(name string) string {
	return "cron." + name
}

type storeHandle struct {
	store xcounter.Store
	key   string
	value string
}

func (h *storeHandle) Unlock(ctx context.Context) error {
	_, err := h.store.ReleaseSharedKeys(ctx, h.key, h.value)
	return err
}

func (h *storeHandle) Key() string { return h.key }
