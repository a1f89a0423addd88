package xkeylock

import "fmt"

const (
	defaultShardCount = 64
	maxShardCount     = 1 << 16
)

// Option 配置 Locker。
type Option func(*options)

type options struct {
	maxKeys    int
	shardCount int
}

func defaultOptions() options {
	return options{shardCount: defaultShardCount}
}

// WithMaxKeys 限制同时活跃的 key 数，n <= 0 不限制。
func WithMaxKeys(n int) Option {
	return func(o *options) { o.maxKeys = max(n, 0) }
}

// WithShardCount 设置分片数，必须是 2 的幂且不超过 65536。
func WithShardCount(n int) Option {
	return func(o *options) { o.shardCount = n }
}

func (o *options) validate() error {
	sc := o.shardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return fmt.Errorf("%w: want power of 2 in [1, %d], got %d", ErrInvalidShardCount, maxShardCount, sc)
	}
	return nil
}
