package xkeylock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Handle 一次成功的加锁。Unlock 第一次返回 nil，之后返回 ErrLockNotHeld。
type Handle interface {
	Unlock() error
	Key() string
}

// Locker 按 key 互斥，不可重入。
type Locker interface {
	// Acquire 阻塞直到获得锁、ctx 结束或 Locker 关闭。
	Acquire(ctx context.Context, key string) (Handle, error)
	// TryAcquire 不阻塞，被占用时返回 ErrLockOccupied。
	TryAcquire(key string) (Handle, error)
	// Do 持锁执行 fn。
	Do(ctx context.Context, key string, fn func() error) error
	// Len 当前活跃 key 数（持有者加等待者）。
	Len() int
	Keys() []string
	Close() error
}

var (
	_ Locker = (*keyLock)(nil)
	_ Handle = (*handle)(nil)
)

// New 创建 Locker。
func New(opts ...Option) (Locker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	shards := make([]shard, o.shardCount)
	for i := range shards {
		shards[i].entries = make(map[string]*entry)
	}
	return &keyLock{
		shards:  shards,
		mask:    uint64(o.shardCount - 1),
		maxKeys: int64(o.maxKeys),
		done:    make(chan struct{}),
	}, nil
}

type keyLock struct {
	shards  []shard
	mask    uint64
	maxKeys int64
	count   atomic.Int64
	closed  atomic.Bool
	done    chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// entry 用容量为 1 的 channel 做互斥：发送即加锁，接收即解锁。
// refs 由 shard.mu 保护，归零时删除条目。
type entry struct {
	ch   chan struct{}
	refs int
}

type handle struct {
	kl       *keyLock
	key      string
	e        *entry
	released atomic.Bool
}

func (kl *keyLock) shardOf(key string) *shard {
	return &kl.shards[xxhash.Sum64String(key)&kl.mask]
}

func (kl *keyLock) ref(key string) (*entry, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	s := kl.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if kl.closed.Load() {
		return nil, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		if kl.maxKeys > 0 && kl.count.Load() >= kl.maxKeys {
			return nil, ErrMaxKeysExceeded
		}
		kl.count.Add(1)
		e = &entry{ch: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e, nil
}

func (kl *keyLock) unref(key string, e *entry) {
	s := kl.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
		kl.count.Add(-1)
	}
}

func (kl *keyLock) Acquire(ctx context.Context, key string) (Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}
	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, e: e}, nil
	case <-ctx.Done():
		kl.unref(key, e)
		return nil, ctx.Err()
	case <-kl.done:
		kl.unref(key, e)
		return nil, ErrClosed
	}
}

func (kl *keyLock) TryAcquire(key string) (Handle, error) {
	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}
	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, e: e}, nil
	default:
		kl.unref(key, e)
		return nil, ErrLockOccupied
	}
}

func (kl *keyLock) Do(ctx context.Context, key string, fn func() error) error {
	h, err := kl.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = h.Unlock() }()
	return fn()
}

func (kl *keyLock) Len() int {
	return int(max(kl.count.Load(), 0))
}

func (kl *keyLock) Keys() []string {
	keys := make([]string, 0, kl.Len())
	for i := range kl.shards {
		s := &kl.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

// Close 唤醒所有等待者并拒绝新的加锁，已持有的 Handle 仍可 Unlock。重复调用返回 ErrClosed。
func (kl *keyLock) Close() error {
	if !kl.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(kl.done)
	return nil
}

func (h *handle) Unlock() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrLockNotHeld
	}
	<-h.e.ch
	h.kl.unref(h.key, h.e)
	return nil
}

func (h *handle) Key() string { return h.key }
