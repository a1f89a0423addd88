package xcron

import (
	"context"
	"log/slog"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
)

// jobWrapper 实现 cron.Job：加锁、超时、跨度、统计、日志。
type jobWrapper struct {
	job      Job
	opts     *jobOptions
	locker   Locker
	logger   xlog.Logger
	observer xmetrics.Observer
	stats    *Stats
	baseCtx  context.Context
}

func (w *jobWrapper) Run() {
	w.run(w.baseCtx)
}

func (w *jobWrapper) run(ctx context.Context) {
	name := w.opts.name
	attr := slog.String("job", name)

	if name != "" && w.locker != nil {
		handle, ok := w.lock(ctx)
		if !ok {
			w.stats.recordSkip(name)
			return
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
			defer cancel()
			if err := handle.Unlock(unlockCtx); err != nil {
				w.logger.Warn(ctx, "failed to release job lock", attr, xlog.Err(err))
			}
		}()
	}

	if w.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.timeout)
		defer cancel()
	}

	ctx, span := xmetrics.Start(ctx, w.observer, xmetrics.SpanOptions{Component: "xcron", Operation: nameOr(name)})
	start := time.Now()
	err := w.job.Run(ctx)
	elapsed := time.Since(start)
	span.End(xmetrics.Result{Err: err})
	w.stats.recordExecution(name, elapsed, err)

	if err != nil {
		w.logger.Error(ctx, "job failed", attr, xlog.Duration(elapsed), xlog.Err(err))
		return
	}
	w.logger.Debug(ctx, "job completed", attr, xlog.Duration(elapsed))
}

func (w *jobWrapper) lock(ctx context.Context) (LockHandle, bool) {
	lockCtx, cancel := context.WithTimeout(ctx, w.opts.lockTimeout)
	defer cancel()
	handle, err := w.locker.TryLock(lockCtx, w.opts.name, w.opts.lockTTL)
	switch {
	case err != nil:
		w.logger.Warn(ctx, "failed to acquire job lock", slog.String("job", w.opts.name), xlog.Err(err))
		return nil, false
	case handle == nil:
		w.logger.Debug(ctx, "job lock held elsewhere, skipping", slog.String("job", w.opts.name))
		return nil, false
	default:
		return handle, true
	}
}

func nameOr(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}
