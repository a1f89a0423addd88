package xcron

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNilJob 任务为 nil。
var ErrNilJob = errors.New("xcron: job cannot be nil")

// JobID 任务标识。
type JobID = cron.EntryID

// Job 定时任务。
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc 函数适配 Job。
type JobFunc func(ctx context.Context) error

// Run 实现 Job。
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Every 返回 "@every d" 表达式。
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// LockHandle 一次成功的加锁。
type LockHandle interface {
	Unlock(ctx context.Context) error
	Key() string
}

// Locker 分布式锁。
//
// TryLock 拿不到锁时返回 (nil, nil)，后端故障返回 error；两种情况任务都跳过本轮。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// NoopLocker 总是加锁成功，单节点部署使用。
func NoopLocker() Locker { return noopLocker{} }

type noopLocker struct{}

func (noopLocker) TryLock(_ context.Context, key string, _ time.Duration) (LockHandle, error) {
	return noopHandle(key), nil
}

type noopHandle string

func (noopHandle) Unlock(context.Context) error { return nil }
func (h noopHandle) Key() string                { return string(h) }
