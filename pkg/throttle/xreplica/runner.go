package xreplica

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xthrottle/pkg/lifecycle/xrun"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
)

// ReplicateFunc 复制单个键。返回错误时键被放回集合。
type ReplicateFunc func(ctx context.Context, key string) error

// TickResult 一轮复制的结果。
type TickResult struct {
	Processed int
	Failed    int
}

// Runner 周期性地取走集合中的键并复制。
type Runner struct {
	name string
	set  *DirtySet
	fn   ReplicateFunc
	opts *options
}

// NewRunner 创建 Runner，name 用于日志和观测。
func NewRunner(name string, set *DirtySet, fn ReplicateFunc, opts ...Option) (*Runner, error) {
	if set == nil {
		return nil, ErrNilSet
	}
	if fn == nil {
		return nil, ErrNilFunc
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Runner{name: name, set: set, fn: fn, opts: o}, nil
}

// Run 按频率执行 Tick 直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) error {
	return xrun.Ticker(r.opts.frequency, false, func(ctx context.Context) error {
		r.Tick(ctx)
		return nil
	})(ctx)
}

// Tick 执行一轮复制。单个键的失败只记录日志，不会中断本轮。
func (r *Runner) Tick(ctx context.Context) TickResult {
	keys := r.set.Drain()
	if len(keys) == 0 {
		return TickResult{}
	}

	ctx, span := xmetrics.Start(ctx, r.opts.observer, xmetrics.SpanOptions{
		Component: "xreplica",
		Operation: r.name,
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.Int("keys", len(keys))},
	})

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.poolSize)
	for _, key := range keys {
		g.Go(func() error {
			if err := r.fn(gctx, key); err != nil {
				failed.Add(1)
				r.set.Mark(key)
				r.opts.logger.Warn(gctx, "replication failed",
					xlog.Operation(r.name), xlog.Key(key), xlog.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{Processed: len(keys), Failed: int(failed.Load())}
	status := xmetrics.StatusOK
	if res.Failed > 0 {
		status = xmetrics.StatusError
	}
	span.End(xmetrics.Result{
		Status: status,
		Attrs:  []xmetrics.Attr{xmetrics.Int("failed", res.Failed)},
	})
	return res
}
