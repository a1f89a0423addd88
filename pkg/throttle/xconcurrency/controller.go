package xconcurrency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

// ErrInvalidLimit 并发上限必须为正。
var ErrInvalidLimit = errors.New("xconcurrency: limit must be positive")

// State 控制器状态，用于复制。
type State struct {
	Key       string `json:"key"`
	Limit     int64  `json:"limit"`
	Available int64  `json:"available"`
}

// Replicator 把状态变化同步给集群。
type Replicator interface {
	Replicate(ctx context.Context, key string, state State) error
}

// ReplicatorFunc 函数适配器。
type ReplicatorFunc func(ctx context.Context, key string, state State) error

// Replicate 实现 Replicator。
func (f ReplicatorFunc) Replicate(ctx context.Context, key string, state State) error {
	return f(ctx, key, state)
}

type noopReplicator struct{}

func (noopReplicator) Replicate(context.Context, string, State) error { return nil }

// Option 控制器选项。
type Option func(*Controller)

// WithReplicator 设置复制器。
func WithReplicator(r Replicator) Option {
	return func(c *Controller) {
		if r != nil {
			c.replicator = r
		}
	}
}

// WithLogger 设置日志。
func WithLogger(l xlog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller 并发控制器。
type Controller struct {
	key        string
	limit      int64
	available  atomic.Int64
	replicator Replicator
	logger     xlog.Logger
}

// New 创建控制器，初始可用槽位等于 limit。
func New(key string, limit int64, opts ...Option) (*Controller, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	c := &Controller{
		key:        key,
		limit:      limit,
		replicator: noopReplicator{},
		logger:     xlog.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.available.Store(limit)
	return c, nil
}

func (c *Controller) Key() string      { return c.key }
func (c *Controller) Limit() int64     { return c.limit }
func (c *Controller) Available() int64 { return c.available.Load() }

// Snapshot 返回当前状态。
func (c *Controller) Snapshot() State {
	return State{Key: c.key, Limit: c.limit, Available: c.available.Load()}
}

// Acquire 占用一个槽位，没有可用槽位时返回 false 且状态不变。
func (c *Controller) Acquire(ctx context.Context) bool {
	if c.available.Add(-1) < 0 {
		c.available.Add(1)
		return false
	}
	c.replicate(ctx)
	return true
}

// Release 归还一个槽位，不超过上限。
func (c *Controller) Release(ctx context.Context) {
	for {
		cur := c.available.Load()
		if cur >= c.limit {
			return
		}
		if c.available.CompareAndSwap(cur, cur+1) {
			c.replicate(ctx)
			return
		}
	}
}

// IncrementAndGet 可用槽位加一并返回新值，不做上限截断。
func (c *Controller) IncrementAndGet(ctx context.Context) int64 {
	v := c.available.Add(1)
	c.replicate(ctx)
	return v
}

// DecrementAndGet 可用槽位减一并返回新值，可能为负。
func (c *Controller) DecrementAndGet(ctx context.Context) int64 {
	v := c.available.Add(-1)
	c.replicate(ctx)
	return v
}

// Reset 恢复全部槽位。
func (c *Controller) Reset(ctx context.Context) {
	c.available.Store(c.limit)
	c.replicate(ctx)
}

// Apply 采用对端广播的状态，不再触发复制。上限不一致时忽略。
func (c *Controller) Apply(state State) bool {
	if state.Limit != c.limit {
		return false
	}
	v := min(state.Available, c.limit)
	c.available.Store(v)
	return true
}

func (c *Controller) replicate(ctx context.Context) {
	if err := c.replicator.Replicate(ctx, c.key, c.Snapshot()); err != nil {
		c.logger.Warn(ctx, "concurrency state replication failed",
			xlog.Key(c.key), xlog.Err(err))
	}
}
