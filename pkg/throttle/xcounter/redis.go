package xcounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// releaseScript 仅当值匹配时删除锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisStore 基于 go-redis 的分布式存储，加锁使用 redsync。
//
// 客户端由调用方持有，Close 不关闭客户端。
type redisStore struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	opts   *options
	closed atomic.Bool
}

// NewRedis 创建 Redis 存储。
func NewRedis(client redis.UniversalClient, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &redisStore{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   o,
	}, nil
}

func (s *redisStore) check(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return checkKey(key)
}

// readInt 解析 GET 结果，键不存在读为 0。
func readInt(op string, cmd *redis.StringCmd) (int64, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(op, err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrInvalidValue, op, raw)
	}
	return v, nil
}

func (s *redisStore) get(ctx context.Context, op, physical string) (int64, error) {
	return readInt(op, s.client.Get(ctx, physical))
}

func (s *redisStore) set(ctx context.Context, op, physical string, value int64, expiry time.Duration) error {
	if expiry < 0 {
		expiry = 0
	}
	return unavailable(op, s.client.Set(ctx, physical, value, expiry).Err())
}

func (s *redisStore) incr(ctx context.Context, op, physical string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, physical, delta).Result()
	if err != nil {
		if isValueError(err) {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidValue, op, err)
		}
		return 0, unavailable(op, err)
	}
	return v, nil
}

func (s *redisStore) del(ctx context.Context, op, physical string) error {
	return unavailable(op, s.client.Del(ctx, physical).Err())
}

// isValueError 判断 Redis 是否因存储值不是整数而拒绝命令。
func isValueError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && !IsCoordinationError(err)
}

func (s *redisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.get(ctx, "get counter", CounterKey(key))
}

func (s *redisStore) SetCounter(ctx context.Context, key string, value int64) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.set(ctx, "set counter", CounterKey(key), value, 0)
}

func (s *redisStore) SetCounterWithExpiry(ctx context.Context, key string, value int64, expiry time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.set(ctx, "set counter", CounterKey(key), value, expiry)
}

func (s *redisStore) AddAndGetCounter(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.incr(ctx, "add counter", CounterKey(key), delta)
}

func (s *redisStore) RemoveCounter(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.del(ctx, "remove counter", CounterKey(key))
}

func (s *redisStore) GetTimestamp(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.get(ctx, "get timestamp", TimestampKey(key))
}

func (s *redisStore) SetTimestamp(ctx context.Context, key string, millis int64) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.set(ctx, "set timestamp", TimestampKey(key), millis, 0)
}

func (s *redisStore) AddAndGetTimestamp(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.incr(ctx, "add timestamp", TimestampKey(key), delta)
}

func (s *redisStore) RemoveTimestamp(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.del(ctx, "remove timestamp", TimestampKey(key))
}

// GetTTL 使用 PTTL，-1 / -2 原样映射为 NoExpiry / NotFound。
func (s *redisStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	d, err := s.client.PTTL(ctx, CounterKey(key)).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return d, nil
}

// async 在独立 goroutine 中执行 fn，不继承 ctx 的取消，超时由 opTimeout 约束。
func (s *redisStore) async(ctx context.Context, fn func(ctx context.Context) (int64, error)) *Future {
	f := newFuture()
	go func() {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.opTimeout)
		defer cancel()
		f.resolve(fn(opCtx))
	}()
	return f
}

func (s *redisStore) AsyncGetAndAddCounter(ctx context.Context, key string, delta int64) *Future {
	if err := s.check(key); err != nil {
		return completed(0, err)
	}
	return s.async(ctx, func(ctx context.Context) (int64, error) {
		v, err := s.incr(ctx, "get and add counter", CounterKey(key), delta)
		if err != nil {
			return 0, err
		}
		return v - delta, nil
	})
}

func (s *redisStore) AsyncGetAndAlterCounter(ctx context.Context, key string, fn AlterFunc) *Future {
	if err := s.check(key); err != nil {
		return completed(0, err)
	}
	if fn == nil {
		return completed(0, ErrNilFunc)
	}
	return s.async(ctx, func(ctx context.Context) (int64, error) {
		return s.alter(ctx, CounterKey(key), fn)
	})
}

// alter 以 WATCH/MULTI 乐观事务应用 fn，冲突时重试，保留原有 TTL。
func (s *redisStore) alter(ctx context.Context, physical string, fn AlterFunc) (int64, error) {
	var prev int64
	txf := func(tx *redis.Tx) error {
		cur, err := readInt("get and alter counter", tx.Get(ctx, physical))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, physical, fn(cur), redis.KeepTTL)
			return nil
		})
		if err == nil {
			prev = cur
		}
		return err
	}
	for range s.opts.maxTxRetries {
		err := s.client.Watch(ctx, txf, physical)
		switch {
		case err == nil:
			return prev, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrInvalidValue), errors.Is(err, ErrUnavailable):
			return 0, err
		default:
			return 0, unavailable("get and alter counter", err)
		}
	}
	return 0, ErrConflict
}

// LockSharedKeys 使用 redsync 获取锁，锁值由调用方提供。
//
// redsync 每轮只尝试一次，重试节奏由 acquireLoop 控制，与其他后端一致；
// 锁被占用返回 (false, nil)，其余 redsync 错误视为后端不可用。
func (s *redisStore) LockSharedKeys(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	mutex := s.rs.NewMutex(LockKey(key),
		redsync.WithExpiry(s.opts.lockExpiry),
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) { return value, nil }),
	)
	return acquireLoop(ctx, s.opts, func(ctx context.Context) (bool, error) {
		err := mutex.LockContext(ctx)
		if err == nil {
			return true, nil
		}
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) || ctx.Err() != nil {
			return false, nil
		}
		return false, unavailable("lock", err)
	})
}

// ReleaseSharedKeys 以脚本比较并删除，避免释放他人的锁。
func (s *redisStore) ReleaseSharedKeys(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, s.client, []string{LockKey(key)}, value).Int64()
	if err != nil {
		return false, unavailable("release", err)
	}
	return n == 1, nil
}

// ListKeys 以 SCAN 枚举，集群模式下只覆盖客户端路由到的节点。
func (s *redisStore) ListKeys(ctx context.Context) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var (
		out    []Entry
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "xthrottle:*", s.opts.scanCount).Result()
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, k := range keys {
			if e, ok := ParseKey(k); ok {
				out = append(out, e)
			}
		}
		if next == 0 {
			sortEntries(out)
			return out, nil
		}
		cursor = next
	}
}

func (s *redisStore) IsEnabled() bool { return !s.closed.Load() }

func (s *redisStore) Type() Type { return TypeRedis }

func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}
