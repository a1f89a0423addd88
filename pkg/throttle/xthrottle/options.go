package xthrottle

import (
	"fmt"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

// DefaultCleanPeriod ProcessCleanList 两次完整扫描之间的最短间隔。
const DefaultCleanPeriod = time.Minute

// Option Holder 初始化选项。
type Option func(*options)

type options struct {
	clustering  bool
	cleanPeriod time.Duration
	flusher     Flusher
	locker      xkeylock.Locker
	logger      xlog.Logger
}

func defaultOptions() *options {
	return &options{
		cleanPeriod: DefaultCleanPeriod,
		flusher:     NoopFlusher{},
		logger:      xlog.Discard(),
	}
}

func (o *options) validate() error {
	if o.cleanPeriod <= 0 {
		return fmt.Errorf("%w: clean period must be positive, got %v", ErrInvalidOption, o.cleanPeriod)
	}
	return nil
}

// WithClustering 启用集群模式，Holder 的调用方表成为权威来源。
func WithClustering(enabled bool) Option {
	return func(o *options) { o.clustering = enabled }
}

// WithCleanPeriod 设置 ProcessCleanList 的扫描间隔。
func WithCleanPeriod(d time.Duration) Option {
	return func(o *options) { o.cleanPeriod = d }
}

// WithFlusher 设置待复制标记的接收者。
func WithFlusher(f Flusher) Option {
	return func(o *options) {
		if f != nil {
			o.flusher = f
		}
	}
}

// WithLocker 使用外部创建的调用方键锁，Holder 不负责关闭它。
func WithLocker(l xkeylock.Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithLogger 设置日志。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
