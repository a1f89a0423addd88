package xcaller

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

// Registry 是调用方所属节流上下文的回调面。
//
// CanAccess 通过它登记窗口变化并标记待复制，实现者通常是 xthrottle.Context。
type Registry interface {
	// Lock 获取调用方键锁，与复制器共用同一把锁。
	Lock(ctx context.Context, key string) (xkeylock.Handle, error)
	// AddAndFlushCallerContext 按 NextTimeWindow 登记新窗口并标记待复制。
	AddAndFlushCallerContext(ctx context.Context, c *CallerContext)
	// FlushCallerContext 标记计数变化待复制。
	FlushCallerContext(ctx context.Context, c *CallerContext)
	// ReplaceCallerContext 把调用方从 previousWindow 移到新窗口并标记待复制。
	ReplaceCallerContext(ctx context.Context, c *CallerContext, previousWindow int64)
	// RemoveAndFlushCaller 注销调用方。
	RemoveAndFlushCaller(ctx context.Context, c *CallerContext)
}

// Key 返回调用方在节流上下文中的限定键 <policyID>:<callerID>。
func Key(policyID, callerID string) string {
	return policyID + ":" + callerID
}

// CallerContext 单个调用方的节流状态。
//
// id、key、roleID、kind 创建后不变；其余字段均为原子值。
type CallerContext struct {
	id     string
	key    string
	roleID string
	kind   Kind

	firstAccessTime atomic.Int64
	nextTimeWindow  atomic.Int64
	nextAccessTime  atomic.Int64
	globalCounter   atomic.Int64
	localCounter    atomic.Int64
}

// New 创建调用方状态。
func New(kind Kind, policyID, callerID, roleID string) *CallerContext {
	return &CallerContext{
		id:     callerID,
		key:    Key(policyID, callerID),
		roleID: roleID,
		kind:   kind,
	}
}

func (c *CallerContext) ID() string     { return c.id }
func (c *CallerContext) Key() string    { return c.key }
func (c *CallerContext) RoleID() string { return c.roleID }
func (c *CallerContext) Kind() Kind     { return c.kind }

func (c *CallerContext) FirstAccessTime() int64 { return c.firstAccessTime.Load() }
func (c *CallerContext) NextTimeWindow() int64  { return c.nextTimeWindow.Load() }
func (c *CallerContext) NextAccessTime() int64  { return c.nextAccessTime.Load() }
func (c *CallerContext) GlobalCounter() int64   { return c.globalCounter.Load() }
func (c *CallerContext) LocalCounter() int64    { return c.localCounter.Load() }

// CanAccess 判定一次访问是否放行，并更新计数与窗口。
//
// policy 为 nil 时放行；策略非法返回 ErrInvalidPolicy；MaxRequests 为 0 时
// 放行且不触碰状态。now 为 Unix 毫秒。
func (c *CallerContext) CanAccess(ctx context.Context, policy *Policy, reg Registry, now int64) (bool, error) {
	if policy == nil {
		return true, nil
	}
	if err := policy.Validate(); err != nil {
		return false, err
	}
	if policy.Unlimited() {
		return true, nil
	}
	if reg == nil {
		return false, ErrNilRegistry
	}

	if c.firstAccessTime.Load() == 0 {
		if err := c.start(ctx, policy, reg, now); err != nil {
			return false, err
		}
	}

	if c.nextTimeWindow.Load() > now {
		return c.accessInWindow(ctx, policy, reg, now)
	}
	return c.accessAfterWindow(ctx, policy, reg, now)
}

// start 首次访问：开启窗口并登记。
func (c *CallerContext) start(ctx context.Context, policy *Policy, reg Registry, now int64) error {
	return c.locked(ctx, reg, func() {
		if c.firstAccessTime.Load() != 0 {
			return
		}
		c.nextTimeWindow.Store(now + policy.unitMillis())
		c.firstAccessTime.Store(now)
		reg.AddAndFlushCallerContext(ctx, c)
	})
}

func (c *CallerContext) accessInWindow(ctx context.Context, policy *Policy, reg Registry, now int64) (bool, error) {
	if c.tryCount(policy.MaxRequests) {
		c.nextAccessTime.Store(0)
		reg.FlushCallerContext(ctx, c)
		return true, nil
	}

	next := c.nextAccessTime.Load()
	if next == 0 {
		if policy.ProhibitTime == 0 {
			next = c.firstAccessTime.Load() + policy.unitMillis()
		} else {
			next = now + policy.prohibitMillis()
		}
		// 并发的拒绝只记录第一次计算的截止时间。
		c.nextAccessTime.CompareAndSwap(0, next)
		reg.FlushCallerContext(ctx, c)
		return false, nil
	}
	if next <= now {
		return c.reset(ctx, policy, reg, now)
	}
	return false, nil
}

func (c *CallerContext) accessAfterWindow(ctx context.Context, policy *Policy, reg Registry, now int64) (bool, error) {
	if c.globalCounter.Load() < policy.MaxRequests {
		// 额外放行：不计数，注销已结束的窗口，下次访问重新创建调用方。
		reg.RemoveAndFlushCaller(ctx, c)
		return true, nil
	}

	next := c.nextAccessTime.Load()
	if next == 0 || next <= now {
		return c.reset(ctx, policy, reg, now)
	}

	xlog.Default().Debug(ctx, "caller still prohibited",
		xlog.Key(c.key), slog.Int64("next_access_time", next))
	return false, nil
}

// tryCount 在未达上限时把两个计数器各加一。
func (c *CallerContext) tryCount(maxRequests int64) bool {
	for {
		g := c.globalCounter.Load()
		if g > maxRequests-1 {
			return false
		}
		if c.globalCounter.CompareAndSwap(g, g+1) {
			c.localCounter.Add(1)
			return true
		}
	}
}

// reset 以 now 开启新窗口并放行本次访问。
//
// 若等锁期间其他请求已完成重置，本次按新窗口正常计数。
func (c *CallerContext) reset(ctx context.Context, policy *Policy, reg Registry, now int64) (bool, error) {
	observed := c.firstAccessTime.Load()
	var admitted bool
	err := c.locked(ctx, reg, func() {
		if c.firstAccessTime.Load() != observed {
			admitted = c.tryCount(policy.MaxRequests)
			if admitted {
				reg.FlushCallerContext(ctx, c)
			}
			return
		}
		previous := c.nextTimeWindow.Load()
		c.nextAccessTime.Store(0)
		c.globalCounter.Store(1)
		c.localCounter.Store(1)
		c.firstAccessTime.Store(now)
		c.nextTimeWindow.Store(now + policy.unitMillis())
		reg.ReplaceCallerContext(ctx, c, previous)
		admitted = true
	})
	return admitted, err
}

func (c *CallerContext) locked(ctx context.Context, reg Registry, fn func()) error {
	h, err := reg.Lock(ctx, c.key)
	if err != nil {
		return err
	}
	defer func() { _ = h.Unlock() }()
	fn()
	return nil
}

// CleanUp 报告调用方是否可以被驱逐：窗口已结束且不在禁止期内。
//
// 清理扫描在驱逐前调用它重新校验，避免驱逐已开启新窗口的调用方。
func (c *CallerContext) CleanUp(now int64) bool {
	if c.nextTimeWindow.Load() > now {
		return false
	}
	next := c.nextAccessTime.Load()
	return next == 0 || next <= now
}
