package main

import (
	"fmt"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/storage/xetcd"
	"github.com/omeyang/xthrottle/pkg/throttle/xnode"
)

// logConfig 日志配置，位于 log 路径。
type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// File 非空时写入文件并按大小轮转。
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

// redisConfig Redis 连接，位于 redis 路径。Addrs 多于一个时使用集群客户端。
type redisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
}

// appConfig 进程配置。
type appConfig struct {
	Log   logConfig
	Redis redisConfig
	Etcd  *xetcd.Config
	Node  xnode.Config
}

func defaultLogConfig() logConfig {
	return logConfig{Level: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 5}
}

// loadAppConfig 解码各路径并校验后端所需的连接配置。
func loadAppConfig(cfg xconf.Config) (*appConfig, error) {
	app := &appConfig{Log: defaultLogConfig(), Etcd: xetcd.DefaultConfig()}
	if err := cfg.Unmarshal("log", &app.Log); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	if err := cfg.Unmarshal("redis", &app.Redis); err != nil {
		return nil, fmt.Errorf("decode redis: %w", err)
	}
	if err := cfg.Unmarshal("etcd", app.Etcd); err != nil {
		return nil, fmt.Errorf("decode etcd: %w", err)
	}
	node, err := xnode.LoadConfig(cfg, xnode.ConfigPath)
	if err != nil {
		return nil, err
	}
	app.Node = node

	needRedis := node.Store.Backend == xnode.BackendRedis || node.Transport.Backend == xnode.TransportRedis
	if needRedis && len(app.Redis.Addrs) == 0 {
		return nil, fmt.Errorf("%w: redis.addrs is required by the configured backends", xnode.ErrInvalidConfig)
	}
	if node.Store.Backend == xnode.BackendEtcd {
		if err := app.Etcd.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", xnode.ErrInvalidConfig, err)
		}
	}
	return app, nil
}

// buildLogger 按配置创建日志，level 非空时覆盖配置中的级别。
func buildLogger(c logConfig, level string) (xlog.LoggerWithLevel, func() error, error) {
	if level == "" {
		level = c.Level
	}
	b := xlog.New().SetLevelString(level).SetFormat(c.Format)
	if c.File != "" {
		b = b.SetRotation(c.File, xlog.WithMaxSizeMB(c.MaxSizeMB), xlog.WithMaxBackups(c.MaxBackups))
	}
	return b.Build()
}
