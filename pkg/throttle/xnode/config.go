package xnode

import (
	"fmt"
	"time"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/throttle/xcleanup"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/throttle/xpolicy"
	"github.com/omeyang/xthrottle/pkg/throttle/xreplica"
	"github.com/omeyang/xthrottle/pkg/throttle/xthrottle"
)

// ConfigPath LoadConfig 默认读取的配置路径。
const ConfigPath = "throttle"

// 存储后端。
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendEtcd  = "etcd"
)

// 集群传输后端。
const (
	TransportNone  = "none"
	TransportRedis = "redis"
)

// Config 节点配置。时长字段使用 Go 时长字符串，如 "50ms"、"1h"。
type Config struct {
	// NodeID 节点标识，为空时启动时随机生成。
	NodeID string `json:"node_id" yaml:"node_id" koanf:"node_id"`
	// Clustering 启用集群模式。
	Clustering bool `json:"clustering" yaml:"clustering" koanf:"clustering"`

	Clean              CleanConfig              `json:"clean" yaml:"clean" koanf:"clean"`
	Replication        ReplicationConfig        `json:"replication" yaml:"replication" koanf:"replication"`
	DistributedCleanup DistributedCleanupConfig `json:"distributed_cleanup" yaml:"distributed_cleanup" koanf:"distributed_cleanup"`
	Lock               LockConfig               `json:"lock" yaml:"lock" koanf:"lock"`
	Store              StoreConfig              `json:"store" yaml:"store" koanf:"store"`
	Transport          TransportConfig          `json:"transport" yaml:"transport" koanf:"transport"`

	Policies []xpolicy.Config `json:"policies" yaml:"policies" koanf:"policies"`
}

// CleanConfig 本地清理。
type CleanConfig struct {
	// Frequency 本地清理任务间隔。
	Frequency time.Duration `json:"frequency" yaml:"frequency" koanf:"frequency"`
	// Period 请求路径上两次完整扫描的最短间隔。
	Period time.Duration `json:"period" yaml:"period" koanf:"period"`
}

// RunnerConfig 单个复制调度器。
type RunnerConfig struct {
	Frequency time.Duration `json:"frequency" yaml:"frequency" koanf:"frequency"`
	PoolSize  int           `json:"pool_size" yaml:"pool_size" koanf:"pool_size"`
}

// ReplicationConfig 复制调度。
type ReplicationConfig struct {
	Counter RunnerConfig `json:"counter" yaml:"counter" koanf:"counter"`
	Window  RunnerConfig `json:"window" yaml:"window" koanf:"window"`
	// BroadcastCallerState 计数复制后向集群广播调用方快照。
	BroadcastCallerState bool `json:"broadcast_caller_state" yaml:"broadcast_caller_state" koanf:"broadcast_caller_state"`
}

// DistributedCleanupConfig 分布式清理。
type DistributedCleanupConfig struct {
	// Enabled 为空时跟随 Clustering。
	Enabled         *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty" koanf:"enabled"`
	Frequency       time.Duration `json:"frequency" yaml:"frequency" koanf:"frequency"`
	TimestampExpiry time.Duration `json:"timestamp_expiry" yaml:"timestamp_expiry" koanf:"timestamp_expiry"`
	MaxRemovals     int           `json:"max_removals" yaml:"max_removals" koanf:"max_removals"`
}

// LockConfig 共享锁。
type LockConfig struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`
	Expiry        time.Duration `json:"expiry" yaml:"expiry" koanf:"expiry"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval" koanf:"retry_interval"`
}

// BreakerConfig 分布式存储熔断。
type BreakerConfig struct {
	Failures    uint32        `json:"failures" yaml:"failures" koanf:"failures"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" koanf:"open_timeout"`
}

// StoreConfig 计数存储。
type StoreConfig struct {
	Backend string        `json:"backend" yaml:"backend" koanf:"backend"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" koanf:"breaker"`
}

// TransportConfig 集群传输。
type TransportConfig struct {
	Backend string `json:"backend" yaml:"backend" koanf:"backend"`
	Channel string `json:"channel" yaml:"channel" koanf:"channel"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Clean: CleanConfig{
			Frequency: xcleanup.DefaultFrequency,
			Period:    xthrottle.DefaultCleanPeriod,
		},
		Replication: ReplicationConfig{
			Counter: RunnerConfig{Frequency: xreplica.DefaultFrequency, PoolSize: xreplica.DefaultPoolSize},
			Window:  RunnerConfig{Frequency: xreplica.DefaultFrequency, PoolSize: xreplica.DefaultPoolSize},
		},
		DistributedCleanup: DistributedCleanupConfig{
			Frequency:       xcleanup.DefaultFrequency,
			TimestampExpiry: xcleanup.DefaultTimestampExpiry,
			MaxRemovals:     xcleanup.DefaultMaxRemovals,
		},
		Lock: LockConfig{
			Timeout:       xcounter.DefaultLockTimeout,
			Expiry:        xcounter.DefaultLockExpiry,
			RetryInterval: xcounter.DefaultRetryInterval,
		},
		Store: StoreConfig{
			Backend: BackendLocal,
			Breaker: BreakerConfig{
				Failures:    xcounter.DefaultBreakerFailures,
				OpenTimeout: xcounter.DefaultBreakerOpenTimeout,
			},
		},
		Transport: TransportConfig{
			Backend: TransportNone,
			Channel: xcluster.DefaultChannel,
		},
	}
}

// LoadConfig 在默认配置之上解码 cfg 的 path 路径并校验。
func LoadConfig(cfg xconf.Config, path string) (Config, error) {
	c := DefaultConfig()
	if err := cfg.Unmarshal(path, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// DistributedCleanupEnabled 返回分布式清理是否启用。
func (c *Config) DistributedCleanupEnabled() bool {
	if c.DistributedCleanup.Enabled != nil {
		return *c.DistributedCleanup.Enabled
	}
	return c.Clustering
}

// Validate 校验配置与全部策略。
func (c *Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"clean.frequency", c.Clean.Frequency},
		{"clean.period", c.Clean.Period},
		{"replication.counter.frequency", c.Replication.Counter.Frequency},
		{"replication.window.frequency", c.Replication.Window.Frequency},
		{"distributed_cleanup.frequency", c.DistributedCleanup.Frequency},
		{"distributed_cleanup.timestamp_expiry", c.DistributedCleanup.TimestampExpiry},
		{"lock.timeout", c.Lock.Timeout},
		{"lock.expiry", c.Lock.Expiry},
		{"lock.retry_interval", c.Lock.RetryInterval},
		{"store.breaker.open_timeout", c.Store.Breaker.OpenTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, p.name, p.d)
		}
	}
	if c.Replication.Counter.PoolSize <= 0 || c.Replication.Window.PoolSize <= 0 {
		return fmt.Errorf("%w: replication pool size must be positive", ErrInvalidConfig)
	}
	if c.DistributedCleanup.MaxRemovals <= 0 {
		return fmt.Errorf("%w: distributed_cleanup.max_removals must be positive", ErrInvalidConfig)
	}
	if c.Store.Breaker.Failures == 0 {
		return fmt.Errorf("%w: store.breaker.failures must be positive", ErrInvalidConfig)
	}
	switch c.Store.Backend {
	case BackendLocal, BackendRedis, BackendEtcd:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	switch c.Transport.Backend {
	case TransportNone, TransportRedis:
	default:
		return fmt.Errorf("%w: unknown transport backend %q", ErrInvalidConfig, c.Transport.Backend)
	}
	if c.Transport.Channel == "" {
		return fmt.Errorf("%w: transport.channel is empty", ErrInvalidConfig)
	}
	return validatePolicies(c.Policies)
}

func validatePolicies(cfgs []xpolicy.Config) error {
	if _, err := xpolicy.CompileAll(cfgs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
