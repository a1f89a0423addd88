package xcounter

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

// fallbackStore 在分布式后端出现协调错误时透明降级到本地存储。
//
// 键与方法语义不变；熔断打开期间所有操作直接走本地，IsEnabled 返回 false。
// 非协调错误（值损坏、参数错误）原样返回，不触发降级也不计入熔断。
type fallbackStore struct {
	remote Store
	local  Store
	cb     *gobreaker.CircuitBreaker[any]
	opts   *options
}

// NewFallback 组合分布式存储与本地存储。
func NewFallback(distributed, local Store, opts ...Option) (Store, error) {
	if distributed == nil || local == nil {
		return nil, ErrNilStore
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &fallbackStore{remote: distributed, local: local, opts: o}
	s.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "xcounter." + string(distributed.Type()),
		Timeout: o.breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsCoordinationError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn(context.Background(), "counter store breaker state changed",
				xlog.Component(name),
				xlog.Operation(from.String()+"->"+to.String()),
			)
		},
	})
	return s, nil
}

// guarded 经熔断器执行 remote，协调失败或熔断时改走 local。
func guarded[T any](ctx context.Context, s *fallbackStore, op string, remote, local func() (T, error)) (T, error) {
	res, err := s.cb.Execute(func() (any, error) {
		v, err := remote()
		return v, err
	})
	if err == nil {
		v, _ := res.(T)
		return v, nil
	}
	if !IsCoordinationError(err) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, err
	}
	s.degrade(ctx, op, err)
	return local()
}

func (s *fallbackStore) degrade(ctx context.Context, op string, err error) {
	// 熔断打开期间每次调用都会走到这里，只在 debug 级别记录。
	if errors.Is(err, gobreaker.ErrOpenState) {
		s.opts.logger.Debug(ctx, "counter store breaker open, serving locally",
			xlog.Operation(op), xlog.Backend(string(s.remote.Type())))
	} else {
		s.opts.logger.Warn(ctx, "counter store falling back to local",
			xlog.Operation(op), xlog.Backend(string(s.remote.Type())), xlog.Err(err))
	}
	if s.opts.onFallback != nil {
		s.opts.onFallback(ctx, op, err)
	}
}

// guardedErr 是 guarded 的无返回值版本。
func guardedErr(ctx context.Context, s *fallbackStore, op string, remote, local func() error) error {
	_, err := guarded(ctx, s, op,
		func() (struct{}, error) { return struct{}{}, remote() },
		func() (struct{}, error) { return struct{}{}, local() },
	)
	return err
}

func (s *fallbackStore) GetCounter(ctx context.Context, key string) (int64, error) {
	return guarded(ctx, s, "get counter",
		func() (int64, error) { return s.remote.GetCounter(ctx, key) },
		func() (int64, error) { return s.local.GetCounter(ctx, key) })
}

func (s *fallbackStore) SetCounter(ctx context.Context, key string, value int64) error {
	return guardedErr(ctx, s, "set counter",
		func() error { return s.remote.SetCounter(ctx, key, value) },
		func() error { return s.local.SetCounter(ctx, key, value) })
}

func (s *fallbackStore) SetCounterWithExpiry(ctx context.Context, key string, value int64, expiry time.Duration) error {
	return guardedErr(ctx, s, "set counter",
		func() error { return s.remote.SetCounterWithExpiry(ctx, key, value, expiry) },
		func() error { return s.local.SetCounterWithExpiry(ctx, key, value, expiry) })
}

func (s *fallbackStore) AddAndGetCounter(ctx context.Context, key string, delta int64) (int64, error) {
	return guarded(ctx, s, "add counter",
		func() (int64, error) { return s.remote.AddAndGetCounter(ctx, key, delta) },
		func() (int64, error) { return s.local.AddAndGetCounter(ctx, key, delta) })
}

func (s *fallbackStore) RemoveCounter(ctx context.Context, key string) error {
	return guardedErr(ctx, s, "remove counter",
		func() error { return s.remote.RemoveCounter(ctx, key) },
		func() error { return s.local.RemoveCounter(ctx, key) })
}

func (s *fallbackStore) GetTimestamp(ctx context.Context, key string) (int64, error) {
	return guarded(ctx, s, "get timestamp",
		func() (int64, error) { return s.remote.GetTimestamp(ctx, key) },
		func() (int64, error) { return s.local.GetTimestamp(ctx, key) })
}

func (s *fallbackStore) SetTimestamp(ctx context.Context, key string, millis int64) error {
	return guardedErr(ctx, s, "set timestamp",
		func() error { return s.remote.SetTimestamp(ctx, key, millis) },
		func() error { return s.local.SetTimestamp(ctx, key, millis) })
}

func (s *fallbackStore) AddAndGetTimestamp(ctx context.Context, key string, delta int64) (int64, error) {
	return guarded(ctx, s, "add timestamp",
		func() (int64, error) { return s.remote.AddAndGetTimestamp(ctx, key, delta) },
		func() (int64, error) { return s.local.AddAndGetTimestamp(ctx, key, delta) })
}

func (s *fallbackStore) RemoveTimestamp(ctx context.Context, key string) error {
	return guardedErr(ctx, s, "remove timestamp",
		func() error { return s.remote.RemoveTimestamp(ctx, key) },
		func() error { return s.local.RemoveTimestamp(ctx, key) })
}

func (s *fallbackStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	return guarded(ctx, s, "ttl",
		func() (time.Duration, error) { return s.remote.GetTTL(ctx, key) },
		func() (time.Duration, error) { return s.local.GetTTL(ctx, key) })
}

// asyncGuarded 在后台等待远端 Future，失败时以本地结果完成。
func (s *fallbackStore) asyncGuarded(ctx context.Context, op string, remote, local func() *Future) *Future {
	f := newFuture()
	go func() {
		waitCtx := context.WithoutCancel(ctx)
		f.resolve(guarded(ctx, s, op,
			func() (int64, error) { return remote().Get(waitCtx) },
			func() (int64, error) { return local().Get(waitCtx) }))
	}()
	return f
}

func (s *fallbackStore) AsyncGetAndAddCounter(ctx context.Context, key string, delta int64) *Future {
	return s.asyncGuarded(ctx, "get and add counter",
		func() *Future { return s.remote.AsyncGetAndAddCounter(ctx, key, delta) },
		func() *Future { return s.local.AsyncGetAndAddCounter(ctx, key, delta) })
}

func (s *fallbackStore) AsyncGetAndAlterCounter(ctx context.Context, key string, fn AlterFunc) *Future {
	return s.asyncGuarded(ctx, "get and alter counter",
		func() *Future { return s.remote.AsyncGetAndAlterCounter(ctx, key, fn) },
		func() *Future { return s.local.AsyncGetAndAlterCounter(ctx, key, fn) })
}

func (s *fallbackStore) LockSharedKeys(ctx context.Context, key, value string) (bool, error) {
	return guarded(ctx, s, "lock",
		func() (bool, error) { return s.remote.LockSharedKeys(ctx, key, value) },
		func() (bool, error) { return s.local.LockSharedKeys(ctx, key, value) })
}

// ReleaseSharedKeys 远端未释放时再尝试本地，锁可能是在降级期间获得的。
func (s *fallbackStore) ReleaseSharedKeys(ctx context.Context, key, value string) (bool, error) {
	released, err := guarded(ctx, s, "release",
		func() (bool, error) { return s.remote.ReleaseSharedKeys(ctx, key, value) },
		func() (bool, error) { return s.local.ReleaseSharedKeys(ctx, key, value) })
	if err != nil || released {
		return released, err
	}
	return s.local.ReleaseSharedKeys(ctx, key, value)
}

func (s *fallbackStore) ListKeys(ctx context.Context) ([]Entry, error) {
	return guarded(ctx, s, "list",
		func() ([]Entry, error) { return s.remote.ListKeys(ctx) },
		func() ([]Entry, error) { return s.local.ListKeys(ctx) })
}

// IsEnabled 熔断打开时返回 false。
func (s *fallbackStore) IsEnabled() bool {
	return s.remote.IsEnabled() && s.cb.State() != gobreaker.StateOpen
}

func (s *fallbackStore) Type() Type { return TypeFallback }

// Close 关闭两个底层存储。
func (s *fallbackStore) Close() error {
	return errors.Join(s.remote.Close(), s.local.Close())
}
