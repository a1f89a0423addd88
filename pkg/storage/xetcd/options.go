package xetcd

import (
	"context"
	"crypto/tls"
	"time"
)

const defaultHealthCheckKey = "xthrottle-health-check"

type options struct {
	ctx            context.Context
	healthCheck    bool
	healthTimeout  time.Duration
	healthCheckKey string
	tlsConfig      *tls.Config
}

func defaultOptions() *options {
	return &options{
		ctx:            context.Background(),
		healthTimeout:  10 * time.Second,
		healthCheckKey: defaultHealthCheckKey,
	}
}

// Option 客户端选项。
type Option func(*options)

// WithContext 设置创建阶段（健康检查）使用的 context。
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithHealthCheck 创建后以一次 Get 校验连接，timeout 为零时使用 10 秒。
func WithHealthCheck(enabled bool, timeout time.Duration) Option {
	return func(o *options) {
		o.healthCheck = enabled
		if timeout > 0 {
			o.healthTimeout = timeout
		}
	}
}

// WithHealthCheckKey 设置健康检查读取的键，启用前缀授权时应位于授权范围内。
func WithHealthCheckKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.healthCheckKey = key
		}
	}
}

// WithTLS 启用 TLS。
func WithTLS(config *tls.Config) Option {
	return func(o *options) { o.tlsConfig = config }
}
