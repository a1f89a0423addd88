package xcounter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// localValue 本地映射中的一项，expireAt 为 0 表示不过期。
type localValue struct {
	value    int64
	expireAt int64
}

type localLock struct {
	value    string
	expireAt int64
}

// localStore 进程内存储，单节点部署或分布式后端降级时使用。
type localStore struct {
	opts *options

	mu         sync.Mutex
	counters   map[string]localValue
	timestamps map[string]localValue
	locks      map[string]localLock
	closed     atomic.Bool
}

// NewLocal 创建进程内存储。
func NewLocal(opts ...Option) (Store, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return newLocal(o), nil
}

func newLocal(o *options) *localStore {
	return &localStore{
		opts:       o,
		counters:   make(map[string]localValue),
		timestamps: make(map[string]localValue),
		locks:      make(map[string]localLock),
	}
}

func (s *localStore) check(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return checkKey(key)
}

// live 读取未过期的值，顺带清理已过期项。调用方持有 mu。
func (s *localStore) live(m map[string]localValue, key string, now int64) (localValue, bool) {
	v, ok := m[key]
	if !ok {
		return localValue{}, false
	}
	if v.expireAt != 0 && v.expireAt <= now {
		delete(m, key)
		return localValue{}, false
	}
	return v, true
}

func (s *localStore) get(m map[string]localValue, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.live(m, key, s.opts.clock.NowMillis())
	return v.value, nil
}

func (s *localStore) set(m map[string]localValue, key string, value int64, expiry time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := localValue{value: value}
	if expiry > 0 {
		v.expireAt = s.opts.clock.NowMillis() + expiry.Milliseconds()
	}
	m[key] = v
	return nil
}

// alter 对 key 应用 fn 并返回 (旧值, 新值)，保留原有过期时间。
func (s *localStore) alter(m map[string]localValue, key string, fn AlterFunc) (int64, int64, error) {
	if err := s.check(key); err != nil {
		return 0, 0, err
	}
	if fn == nil {
		return 0, 0, ErrNilFunc
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.live(m, key, s.opts.clock.NowMillis())
	prev := v.value
	v.value = fn(prev)
	m[key] = v
	return prev, v.value, nil
}

func (s *localStore) remove(m map[string]localValue, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.mu.Lock()
	delete(m, key)
	s.mu.Unlock()
	return nil
}

func add(delta int64) AlterFunc {
	return func(cur int64) int64 { return cur + delta }
}

func (s *localStore) GetCounter(_ context.Context, key string) (int64, error) {
	return s.get(s.counters, key)
}

func (s *localStore) SetCounter(_ context.Context, key string, value int64) error {
	return s.set(s.counters, key, value, 0)
}

func (s *localStore) SetCounterWithExpiry(_ context.Context, key string, value int64, expiry time.Duration) error {
	return s.set(s.counters, key, value, expiry)
}

func (s *localStore) AddAndGetCounter(_ context.Context, key string, delta int64) (int64, error) {
	_, next, err := s.alter(s.counters, key, add(delta))
	return next, err
}

func (s *localStore) RemoveCounter(_ context.Context, key string) error {
	return s.remove(s.counters, key)
}

func (s *localStore) GetTimestamp(_ context.Context, key string) (int64, error) {
	return s.get(s.timestamps, key)
}

func (s *localStore) SetTimestamp(_ context.Context, key string, millis int64) error {
	return s.set(s.timestamps, key, millis, 0)
}

func (s *localStore) AddAndGetTimestamp(_ context.Context, key string, delta int64) (int64, error) {
	_, next, err := s.alter(s.timestamps, key, add(delta))
	return next, err
}

func (s *localStore) RemoveTimestamp(_ context.Context, key string) error {
	return s.remove(s.timestamps, key)
}

func (s *localStore) GetTTL(_ context.Context, key string) (time.Duration, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.clock.NowMillis()
	v, ok := s.live(s.counters, key, now)
	switch {
	case !ok:
		return NotFound, nil
	case v.expireAt == 0:
		return NoExpiry, nil
	default:
		return time.Duration(v.expireAt-now) * time.Millisecond, nil
	}
}

// AsyncGetAndAddCounter 本地操作同步完成，返回已就绪的 Future。
func (s *localStore) AsyncGetAndAddCounter(_ context.Context, key string, delta int64) *Future {
	prev, _, err := s.alter(s.counters, key, add(delta))
	return completed(prev, err)
}

func (s *localStore) AsyncGetAndAlterCounter(_ context.Context, key string, fn AlterFunc) *Future {
	prev, _, err := s.alter(s.counters, key, fn)
	return completed(prev, err)
}

// tryLock 单次 set-if-absent，已过期的锁视为不存在。
func (s *localStore) tryLock(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.clock.NowMillis()
	if cur, ok := s.locks[key]; ok && cur.expireAt > now {
		return false
	}
	s.locks[key] = localLock{value: value, expireAt: now + s.opts.lockExpiry.Milliseconds()}
	return true
}

func (s *localStore) LockSharedKeys(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	return acquireLoop(ctx, s.opts, func(context.Context) (bool, error) {
		if s.closed.Load() {
			return false, ErrClosed
		}
		return s.tryLock(key, value), nil
	})
}

func (s *localStore) ReleaseSharedKeys(_ context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[key]
	if !ok || cur.value != value || cur.expireAt <= s.opts.clock.NowMillis() {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *localStore) ListKeys(context.Context) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.clock.NowMillis()
	out := make([]Entry, 0, len(s.counters)+len(s.timestamps))
	for k := range s.counters {
		if _, ok := s.live(s.counters, k, now); ok {
			out = append(out, Entry{Kind: KindCounter, Key: k})
		}
	}
	for k := range s.timestamps {
		if _, ok := s.live(s.timestamps, k, now); ok {
			out = append(out, Entry{Kind: KindTimestamp, Key: k})
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *localStore) IsEnabled() bool { return false }

func (s *localStore) Type() Type { return TypeLocal }

func (s *localStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}
