package xetcd

import (
	"context"
	"errors"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// NewClient 按配置创建 etcd 客户端。客户端由调用方关闭。
func NewClient(config *Config, opts ...Option) (*clientv3.Client, error) {
	cc, err := clientConfig(config, opts...)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	client, err := clientv3.New(cc)
	if err != nil {
		return nil, fmt.Errorf("xetcd: create client: %w", err)
	}
	if o.healthCheck {
		ctx, cancel := context.WithTimeout(o.ctx, o.healthTimeout)
		defer cancel()
		if _, err := client.Get(ctx, o.healthCheckKey); err != nil {
			return nil, errors.Join(fmt.Errorf("xetcd: health check failed: %w", err), client.Close())
		}
	}
	return client, nil
}

// clientConfig 校验配置并转换为 clientv3.Config。
func clientConfig(config *Config, opts ...Option) (clientv3.Config, error) {
	if config == nil {
		return clientv3.Config{}, ErrNilConfig
	}
	if err := config.Validate(); err != nil {
		return clientv3.Config{}, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	cfg := config.applyDefaults()

	// keepalive 只经 DialOptions 设置，避免与 Config 字段重复。
	return clientv3.Config{
		Endpoints:        cfg.Endpoints,
		DialTimeout:      cfg.DialTimeout,
		Username:         cfg.Username,
		Password:         cfg.Password,
		RejectOldCluster: cfg.RejectOldCluster,
		TLS:              o.tlsConfig,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.DialKeepAliveTime,
				Timeout:             cfg.DialKeepAliveTimeout,
				PermitWithoutStream: cfg.PermitWithoutStream,
			}),
		},
	}, nil
}
