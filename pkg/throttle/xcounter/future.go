package xcounter

import (
	"context"
	"sync"
)

// Future 异步计数操作的结果。
type Future struct {
	done chan struct{}
	once sync.Once
	val  int64
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// completed 返回已完成的 Future。
func completed(val int64, err error) *Future {
	f := newFuture()
	f.resolve(val, err)
	return f
}

func (f *Future) resolve(val int64, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Done 在结果就绪时关闭。
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get 等待结果。ctx 先结束时返回 ctx.Err()，后台操作不受影响。
func (f *Future) Get(ctx context.Context) (int64, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
