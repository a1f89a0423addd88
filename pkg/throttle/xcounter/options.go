package xcounter

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

// 锁默认值。
const (
	DefaultLockTimeout   = 500 * time.Millisecond
	DefaultLockExpiry    = 2 * time.Second
	DefaultRetryInterval = 5 * time.Millisecond
	DefaultOpTimeout     = time.Second
	defaultScanCount     = 256
	defaultMaxTxRetries  = 16

	// DefaultBreakerFailures 连续协调失败达到该次数后熔断。
	DefaultBreakerFailures uint32 = 5
	// DefaultBreakerOpenTimeout 熔断打开后多久进入半开探测。
	DefaultBreakerOpenTimeout = 30 * time.Second
)

// FallbackFunc 降级发生时的回调，op 为存储操作名。
type FallbackFunc func(ctx context.Context, op string, err error)

// Option 存储选项。
type Option func(*options)

type options struct {
	lockTimeout   time.Duration
	lockExpiry    time.Duration
	retryInterval time.Duration
	opTimeout     time.Duration
	scanCount     int64
	maxTxRetries  int
	clock         xclock.Clock
	logger        xlog.Logger

	breakerFailures    uint32
	breakerOpenTimeout time.Duration
	onFallback         FallbackFunc
}

func defaultOptions() *options {
	return &options{
		lockTimeout:   DefaultLockTimeout,
		lockExpiry:    DefaultLockExpiry,
		retryInterval: DefaultRetryInterval,
		opTimeout:     DefaultOpTimeout,
		scanCount:     defaultScanCount,
		maxTxRetries:  defaultMaxTxRetries,
		clock:         xclock.Default(),
		logger:        xlog.Discard(),

		breakerFailures:    DefaultBreakerFailures,
		breakerOpenTimeout: DefaultBreakerOpenTimeout,
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) validate() error {
	switch {
	case o.lockTimeout <= 0:
		return fmt.Errorf("%w: lock timeout must be positive, got %v", ErrInvalidOption, o.lockTimeout)
	case o.lockExpiry <= 0:
		return fmt.Errorf("%w: lock expiry must be positive, got %v", ErrInvalidOption, o.lockExpiry)
	case o.retryInterval <= 0:
		return fmt.Errorf("%w: retry interval must be positive, got %v", ErrInvalidOption, o.retryInterval)
	case o.opTimeout <= 0:
		return fmt.Errorf("%w: operation timeout must be positive, got %v", ErrInvalidOption, o.opTimeout)
	case o.breakerFailures == 0:
		return fmt.Errorf("%w: breaker failures must be positive", ErrInvalidOption)
	case o.breakerOpenTimeout <= 0:
		return fmt.Errorf("%w: breaker open timeout must be positive, got %v", ErrInvalidOption, o.breakerOpenTimeout)
	}
	return nil
}

// WithLockTimeout 设置 LockSharedKeys 的获取超时。
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithLockExpiry 设置锁的过期时间。
func WithLockExpiry(d time.Duration) Option {
	return func(o *options) { o.lockExpiry = d }
}

// WithRetryInterval 设置加锁重试间隔。
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) { o.retryInterval = d }
}

// WithOpTimeout 设置异步操作的超时，异步操作不继承调用方的取消。
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) { o.opTimeout = d }
}

// WithClock 设置时钟，本地存储据此判断过期。
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

// WithBreaker 设置降级存储的熔断参数：连续失败次数与打开时长。
func WithBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = failures
		o.breakerOpenTimeout = openTimeout
	}
}

// WithOnFallback 设置降级回调，通常用于计数。
func WithOnFallback(fn FallbackFunc) Option {
	return func(o *options) { o.onFallback = fn }
}
