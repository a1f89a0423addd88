package xcron

import (
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
)

const (
	defaultLockTTL     = 5 * time.Minute
	defaultLockTimeout = 5 * time.Second
	unlockTimeout      = 5 * time.Second
)

type schedulerOptions struct {
	locker   Locker
	logger   xlog.Logger
	observer xmetrics.Observer
	location *time.Location
}

// SchedulerOption 调度器选项。
type SchedulerOption func(*schedulerOptions)

func defaultSchedulerOptions() *schedulerOptions {
	return &schedulerOptions{
		locker:   NoopLocker(),
		logger:   xlog.Discard(),
		observer: xmetrics.NoopObserver{},
		location: time.Local,
	}
}

// WithLocker 设置默认锁，任务可用 WithJobLocker 覆盖。
func WithLocker(l Locker) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithLogger 设置日志。
func WithLogger(l xlog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 每次执行包一个 xmetrics 跨度。
func WithObserver(obs xmetrics.Observer) SchedulerOption {
	return func(o *schedulerOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLocation 设置时区，默认 time.Local。
func WithLocation(loc *time.Location) SchedulerOption {
	return func(o *schedulerOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

type jobOptions struct {
	name        string
	locker      Locker
	lockTTL     time.Duration
	lockTimeout time.Duration
	timeout     time.Duration
	immediate   bool
}

// JobOption 任务选项。
type JobOption func(*jobOptions)

func defaultJobOptions() *jobOptions {
	return &jobOptions{lockTTL: defaultLockTTL, lockTimeout: defaultLockTimeout}
}

// WithName 任务名，同时作为锁 key。没有名称的任务不加锁。
func WithName(name string) JobOption {
	return func(o *jobOptions) { o.name = name }
}

// WithJobLocker 覆盖调度器默认锁。
func WithJobLocker(l Locker) JobOption {
	return func(o *jobOptions) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithLockTTL 锁过期时间。
func WithLockTTL(ttl time.Duration) JobOption {
	return func(o *jobOptions) {
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithLockTimeout 获取锁的最长等待。
func WithLockTimeout(d time.Duration) JobOption {
	return func(o *jobOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithTimeout 单次执行超时，0 表示不限。
func WithTimeout(d time.Duration) JobOption {
	return func(o *jobOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithImmediate 注册后立即在后台执行一次。
func WithImmediate() JobOption {
	return func(o *jobOptions) { o.immediate = true }
}
