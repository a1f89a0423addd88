package xnode

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/observability/xmetrics"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

// Option 节点选项。
type Option func(*options)

type options struct {
	store         xcounter.Store
	transport     xcluster.Transport
	clock         xclock.Clock
	logger        xlog.Logger
	observer      xmetrics.Observer
	meterProvider metric.MeterProvider
}

func defaultOptions() *options {
	return &options{
		clock:    xclock.Default(),
		logger:   xlog.Default(),
		observer: xmetrics.NoopObserver{},
	}
}

// WithStore 设置分布式计数存储（Redis 或 etcd），节点用熔断降级存储包装它。
// 传入进程内存储时直接共享，供单进程模拟多个节点。
// 存储由调用方关闭。未设置时使用节点自建的进程内存储。
func WithStore(s xcounter.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTransport 设置集群传输层，未设置时不广播。
func WithTransport(t xcluster.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock 设置时钟。
func WithClock(c xclock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置日志。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMeterProvider 启用 OpenTelemetry 指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}
