package xetcd

import (
	"fmt"
	"strings"
	"time"
)

// Config etcd 客户端配置。
//
// 推荐以 DefaultConfig() 为基础按需覆盖：
//
//	cfg := xetcd.DefaultConfig()
//	cfg.Endpoints = []string{"localhost:2379"}
//	client, err := xetcd.NewClient(cfg)
type Config struct {
	// Endpoints etcd 端点列表，必填，格式 host:port。
	Endpoints []string `json:"endpoints" yaml:"endpoints" koanf:"endpoints"`

	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`

	// DialTimeout 连接超时，零值使用 5 秒。
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" koanf:"dial_timeout"`
	// DialKeepAliveTime keepalive 探测间隔，零值使用 10 秒。
	DialKeepAliveTime time.Duration `json:"dial_keepalive_time" yaml:"dial_keepalive_time" koanf:"dial_keepalive_time"`
	// DialKeepAliveTimeout keepalive 探测超时，零值使用 3 秒。
	DialKeepAliveTimeout time.Duration `json:"dial_keepalive_timeout" yaml:"dial_keepalive_timeout" koanf:"dial_keepalive_timeout"`

	// RejectOldCluster 拒绝版本过低的集群。零值为 false，DefaultConfig 中为 true。
	RejectOldCluster bool `json:"reject_old_cluster" yaml:"reject_old_cluster" koanf:"reject_old_cluster"`
	// PermitWithoutStream 没有活跃流时也发送 keepalive。
	PermitWithoutStream bool `json:"permit_without_stream" yaml:"permit_without_stream" koanf:"permit_without_stream"`
}

const (
	defaultDialTimeout          = 5 * time.Second
	defaultDialKeepAliveTime    = 10 * time.Second
	defaultDialKeepAliveTimeout = 3 * time.Second
)

// DefaultConfig 返回带推荐默认值的配置。
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:          defaultDialTimeout,
		DialKeepAliveTime:    defaultDialKeepAliveTime,
		DialKeepAliveTimeout: defaultDialKeepAliveTimeout,
		RejectOldCluster:     true,
		PermitWithoutStream:  true,
	}
}

// Validate 校验端点。
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if ep == "" {
			return fmt.Errorf("%w: endpoint[%d] is empty", ErrInvalidEndpoint, i)
		}
		if !strings.Contains(ep, ":") {
			return fmt.Errorf("%w: endpoint[%d]=%q missing port", ErrInvalidEndpoint, i, ep)
		}
	}
	return nil
}

// applyDefaults 返回补齐默认值的副本。
func (c *Config) applyDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DialKeepAliveTime <= 0 {
		cfg.DialKeepAliveTime = defaultDialKeepAliveTime
	}
	if cfg.DialKeepAliveTimeout <= 0 {
		cfg.DialKeepAliveTimeout = defaultDialKeepAliveTimeout
	}
	return &cfg
}
