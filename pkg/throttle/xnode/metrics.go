package xnode

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricNameRequestsTotal = "xthrottle.requests.total"
	metricNameDeniedTotal   = "xthrottle.denied.total"
	metricNameFallbackTotal = "xthrottle.fallback.total"
	metricNameCheckDuration = "xthrottle.check.duration"
)

// Metrics 节流指标。nil 接收者上的方法不做任何事。
type Metrics struct {
	requestsTotal metric.Int64Counter
	deniedTotal   metric.Int64Counter
	fallbackTotal metric.Int64Counter
	checkDuration metric.Float64Histogram
}

// NewMetrics 创建指标收集器，meterProvider 为 nil 时返回 nil。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}
	meter := meterProvider.Meter("xthrottle")

	requestsTotal, err := meter.Int64Counter(metricNameRequestsTotal,
		metric.WithDescription("节流判定总数"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	deniedTotal, err := meter.Int64Counter(metricNameDeniedTotal,
		metric.WithDescription("被拒绝的请求数"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	fallbackTotal, err := meter.Int64Counter(metricNameFallbackTotal,
		metric.WithDescription("分布式存储降级次数"),
		metric.WithUnit("{fallback}"))
	if err != nil {
		return nil, err
	}
	checkDuration, err := meter.Float64Histogram(metricNameCheckDuration,
		metric.WithDescription("节流判定耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		requestsTotal: requestsTotal,
		deniedTotal:   deniedTotal,
		fallbackTotal: fallbackTotal,
		checkDuration: checkDuration,
	}, nil
}

// RecordDecision 记录一次判定。reason 仅在拒绝时有值。
func (m *Metrics) RecordDecision(ctx context.Context, policyID string, allowed bool, reason DenyReason, d time.Duration) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(
		attribute.String("policy", policyID),
		attribute.Bool("allowed", allowed),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	if !allowed {
		m.deniedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("policy", policyID),
			attribute.String("reason", string(reason)),
		))
	}
	m.checkDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFallback 记录一次存储降级。
func (m *Metrics) RecordFallback(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.fallbackTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("op", op)))
}
