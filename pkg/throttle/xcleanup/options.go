package xcleanup

import (
	"fmt"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

const (
	// DefaultFrequency 两类清理任务的默认执行间隔。
	DefaultFrequency = time.Hour
	// DefaultTimestampExpiry 共享时间戳超过该时长未更新即视为过期。
	DefaultTimestampExpiry = time.Hour
	// DefaultMaxRemovals 每轮时间戳与计数器各自的删除上限。
	DefaultMaxRemovals = 1000
)

// Option 清理任务选项。
type Option func(*options)

type options struct {
	clock           xclock.Clock
	logger          xlog.Logger
	timestampExpiry time.Duration
	maxRemovals     int
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{
		clock:           xclock.Default(),
		logger:          xlog.Discard(),
		timestampExpiry: DefaultTimestampExpiry,
		maxRemovals:     DefaultMaxRemovals,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.timestampExpiry <= 0 {
		return nil, fmt.Errorf("%w: timestamp expiry must be positive, got %v", ErrInvalidOption, o.timestampExpiry)
	}
	if o.maxRemovals <= 0 {
		return nil, fmt.Errorf("%w: max removals must be positive, got %d", ErrInvalidOption, o.maxRemovals)
	}
	return o, nil
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

// WithTimestampExpiry 设置共享时间戳过期时长。
func WithTimestampExpiry(d time.Duration) Option {
	return func(o *options) { o.timestampExpiry = d }
}

// WithMaxRemovals 设置每轮删除上限。
func WithMaxRemovals(n int) Option {
	return func(o *options) { o.maxRemovals = n }
}
