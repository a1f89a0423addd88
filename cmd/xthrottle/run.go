package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/lifecycle/xrun"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
	"github.com/omeyang/xthrottle/pkg/storage/xetcd"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/throttle/xnode"
)

func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "按配置运行节流节点",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if path == "" {
				return newUsageError("--config is required")
			}
			return cmdRun(ctx, path, cmd.String("log-level"))
		},
	}
}

// backends 进程创建的外部连接，随进程退出关闭。
type backends struct {
	store     xcounter.Store
	transport xcluster.Transport
	closers   []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// newRedisClient 单地址使用普通客户端，多地址使用集群客户端。
func newRedisClient(c redisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	})
}

// openBackends 按配置创建分布式存储与集群传输。
func openBackends(ctx context.Context, app *appConfig, logger xlog.Logger) (*backends, error) {
	b := &backends{}
	storeOpts := []xcounter.Option{
		xcounter.WithLockTimeout(app.Node.Lock.Timeout),
		xcounter.WithLockExpiry(app.Node.Lock.Expiry),
		xcounter.WithRetryInterval(app.Node.Lock.RetryInterval),
		xcounter.WithLogger(logger),
	}

	var rc redis.UniversalClient
	if len(app.Redis.Addrs) > 0 {
		rc = newRedisClient(app.Redis)
		b.closers = append(b.closers, rc.Close)
	}

	switch app.Node.Store.Backend {
	case xnode.BackendRedis:
		s, err := xcounter.NewRedis(rc, storeOpts...)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	case xnode.BackendEtcd:
		ec, err := xetcd.NewClient(app.Etcd, xetcd.WithContext(ctx), xetcd.WithHealthCheck(true, 0))
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.closers = append(b.closers, ec.Close)
		s, err := xcounter.NewEtcd(ec, storeOpts...)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	}

	if app.Node.Transport.Backend == xnode.TransportRedis {
		t, err := xcluster.NewRedis(rc)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.transport = t
	}
	return b, nil
}

func cmdRun(ctx context.Context, path, level string) error {
	cfg, err := xconf.New(path)
	if err != nil {
		return &usageError{err: err}
	}
	app, err := loadAppConfig(cfg)
	if err != nil {
		return &usageError{err: err}
	}
	logger, closeLog, err := buildLogger(app.Log, level)
	if err != nil {
		return &usageError{err: err}
	}
	defer func() { _ = closeLog() }()
	xlog.SetDefault(logger)

	b, err := openBackends(ctx, app, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn(context.Background(), "close backends failed", xlog.Err(err))
		}
	}()

	observer, err := xmetrics.NewOTelObserver()
	if err != nil {
		return fmt.Errorf("create observer: %w", err)
	}
	opts := []xnode.Option{
		xnode.WithLogger(logger),
		xnode.WithObserver(observer),
		xnode.WithMeterProvider(otel.GetMeterProvider()),
	}
	if b.store != nil {
		opts = append(opts, xnode.WithStore(b.store))
	}
	if b.transport != nil {
		opts = append(opts, xnode.WithTransport(b.transport))
	}
	node, err := xnode.New(app.Node, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	watcher, err := xconf.Watch(cfg, reloadFunc(node, logger))
	if err != nil {
		return err
	}

	err = xrun.RunWithOptions(ctx,
		[]xrun.Option{xrun.WithName("xthrottle"), xrun.WithLogger(logger)},
		node.Run, watcher.Run)
	if errors.Is(err, xrun.ErrSignal) {
		return nil
	}
	return err
}

// reloadFunc 配置文件变更后重新加载策略。只有策略支持热加载。
func reloadFunc(node *xnode.Node, logger xlog.Logger) xconf.WatchCallback {
	return func(cfg xconf.Config, err error) {
		ctx := context.Background()
		if err != nil {
			logger.Warn(ctx, "config reload failed", xlog.Err(err))
			return
		}
		next, err := xnode.LoadConfig(cfg, xnode.ConfigPath)
		if err == nil {
			err = node.Reload(next)
		}
		if err != nil {
			logger.Warn(ctx, "policy reload rejected", xlog.Err(err))
		}
	}
}
