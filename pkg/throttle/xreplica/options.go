package xreplica

import (
	"fmt"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

const (
	// DefaultFrequency 复制间隔。
	DefaultFrequency = 50 * time.Millisecond
	// DefaultPoolSize 每轮并发处理的键数。
	DefaultPoolSize = 1
)

// Option 复制组件选项，各组件只读取与自己相关的字段。
type Option func(*options)

type options struct {
	frequency   time.Duration
	poolSize    int
	clock       xclock.Clock
	logger      xlog.Logger
	observer    xmetrics.Observer
	broadcaster Broadcaster
	counters    *DirtySet
}

func defaultOptions() *options {
	return &options{
		frequency: DefaultFrequency,
		poolSize:  DefaultPoolSize,
		clock:     xclock.Default(),
		logger:    xlog.Discard(),
		observer:  xmetrics.NoopObserver{},
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.frequency <= 0 {
		return nil, fmt.Errorf("%w: frequency must be positive, got %v", ErrInvalidOption, o.frequency)
	}
	if o.poolSize <= 0 {
		return nil, fmt.Errorf("%w: pool size must be positive, got %d", ErrInvalidOption, o.poolSize)
	}
	return o, nil
}

// WithFrequency 设置 Runner 的复制间隔。
func WithFrequency(d time.Duration) Option {
	return func(o *options) { o.frequency = d }
}

// WithPoolSize 设置 Runner 每轮的并发度。
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithClock 设置时钟。
func WithClock(c xclock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置日志。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，每轮复制产生一个跨度。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithBroadcaster 计数复制成功后广播调用方快照。
func WithBroadcaster(b Broadcaster) Option {
	return func(o *options) { o.broadcaster = b }
}

// WithCounterSet 窗口复制器发起新窗口后把键放入计数集合，
// 使重置后的本地计数进入下一轮计数复制。
func WithCounterSet(set *DirtySet) Option {
	return func(o *options) { o.counters = set }
}
