package xcounter

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Type 存储后端类型。
type Type string

const (
	TypeLocal    Type = "local"
	TypeRedis    Type = "redis"
	TypeEtcd     Type = "etcd"
	TypeFallback Type = "fallback"
)

// 键前缀。所有后端使用相同的命名空间，降级时键保持不变。
const (
	CounterPrefix   = "xthrottle:counter:"
	TimestampPrefix = "xthrottle:timestamp:"
	LockPrefix      = "xthrottle:lock:"
)

// GetTTL 的特殊返回值，与 Redis PTTL 一致。
const (
	// NoExpiry 键存在但没有过期时间。
	NoExpiry time.Duration = -1
	// NotFound 键不存在。
	NotFound time.Duration = -2
)

// Kind 存储对象类别。
type Kind int

const (
	KindCounter Kind = iota + 1
	KindTimestamp
)

// String 返回类别名。
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Entry 是 ListKeys 枚举出的一个对象，Key 为去掉前缀的逻辑键。
type Entry struct {
	Kind Kind
	Key  string
}

// AlterFunc 对当前值做一次结合律变换，例如 current + delta。
type AlterFunc func(current int64) int64

// Store 计数器与时间戳存储。
//
// 不存在的计数器和时间戳读为 0。所有方法并发安全。
type Store interface {
	GetCounter(ctx context.Context, key string) (int64, error)
	SetCounter(ctx context.Context, key string, value int64) error
	// SetCounterWithExpiry 写入计数器并设置过期时间，expiry <= 0 表示不过期。
	SetCounterWithExpiry(ctx context.Context, key string, value int64, expiry time.Duration) error
	AddAndGetCounter(ctx context.Context, key string, delta int64) (int64, error)
	RemoveCounter(ctx context.Context, key string) error

	GetTimestamp(ctx context.Context, key string) (int64, error)
	SetTimestamp(ctx context.Context, key string, millis int64) error
	AddAndGetTimestamp(ctx context.Context, key string, delta int64) (int64, error)
	RemoveTimestamp(ctx context.Context, key string) error

	// GetTTL 返回计数器剩余存活时间，或 NoExpiry / NotFound。
	GetTTL(ctx context.Context, key string) (time.Duration, error)

	// AsyncGetAndAddCounter 异步加 delta，Future 结果为加之前的值。
	AsyncGetAndAddCounter(ctx context.Context, key string, delta int64) *Future
	// AsyncGetAndAlterCounter 异步应用 fn，Future 结果为变换之前的值。
	AsyncGetAndAlterCounter(ctx context.Context, key string, fn AlterFunc) *Future

	// LockSharedKeys 获取带值的共享锁，超时返回 (false, nil)。
	LockSharedKeys(ctx context.Context, key, value string) (bool, error)
	// ReleaseSharedKeys 仅当锁值匹配时释放，返回是否真正释放。
	ReleaseSharedKeys(ctx context.Context, key, value string) (bool, error)

	// ListKeys 枚举所有计数器与时间戳。
	ListKeys(ctx context.Context) ([]Entry, error)

	// IsEnabled 报告分布式后端是否已配置且可用。本地存储恒为 false。
	IsEnabled() bool
	Type() Type
	Close() error
}

// CounterKey 返回计数器的物理键。
func CounterKey(key string) string { return CounterPrefix + key }

// TimestampKey 返回时间戳的物理键。
func TimestampKey(key string) string { return TimestampPrefix + key }

// LockKey 返回锁的物理键。
func LockKey(key string) string { return LockPrefix + key }

// ParseKey 按前缀把物理键还原为 Entry，锁键与未知键返回 false。
func ParseKey(physical string) (Entry, bool) {
	switch {
	case strings.HasPrefix(physical, CounterPrefix):
		return Entry{Kind: KindCounter, Key: physical[len(CounterPrefix):]}, true
	case strings.HasPrefix(physical, TimestampPrefix):
		return Entry{Kind: KindTimestamp, Key: physical[len(TimestampPrefix):]}, true
	default:
		return Entry{}, false
	}
}

// sortEntries 按类别再按键排序，计数器在前。
func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Kind != es[j].Kind {
			return es[i].Kind < es[j].Kind
		}
		return es[i].Key < es[j].Key
	})
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
