package xcleanup

import (
	"context"
	"errors"

	"github.com/omeyang/xthrottle/pkg/distributed/xcron"
	"github.com/omeyang/xthrottle/pkg/throttle/xthrottle"
)

// Contexts 节流上下文来源，通常是 xthrottle.Holder。
type Contexts interface {
	Contexts() []*xthrottle.Context
}

// LocalCleaner 驱逐本节点窗口已结束的调用方。
type LocalCleaner struct {
	contexts Contexts
	opts     *options
}

var _ xcron.Job = (*LocalCleaner)(nil)

// NewLocalCleaner 创建本地清理任务。
func NewLocalCleaner(contexts Contexts, opts ...Option) (*LocalCleaner, error) {
	if contexts == nil {
		return nil, ErrNilContexts
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LocalCleaner{contexts: contexts, opts: o}, nil
}

// Run 对每个上下文执行一次完整扫描，返回合并后的状态损坏错误。
// 某个上下文出错不影响其他上下文。
func (c *LocalCleaner) Run(ctx context.Context) error {
	now := c.opts.clock.NowMillis()
	var errs []error
	for _, tc := range c.contexts.Contexts() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tc.CleanupCallers(ctx, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
