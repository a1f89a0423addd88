package xnode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/throttle/xpolicy"
	"github.com/omeyang/xthrottle/pkg/util/xclock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const base int64 = 1_700_000_000_000

func ipPolicy(id string, max int64, maxConcurrent int64) xpolicy.Config {
	return xpolicy.Config{
		ID:            id,
		Kind:          xcaller.KindIP,
		MaxConcurrent: maxConcurrent,
		Rules: []xpolicy.Rule{{
			Match:  "10.0.0.0/8",
			Policy: xcaller.Policy{MaxRequests: max, UnitTime: time.Second},
		}},
	}
}

func newTestNode(t *testing.T, cfg Config, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithLogger(xlog.Discard())}, opts...)
	n, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func check(t *testing.T, n *Node, caller, policy string) *Decision {
	t.Helper()
	d, err := n.CheckAndAdmit(context.Background(), caller, "", policy)
	require.NoError(t, err)
	return d
}

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Hour, c.Clean.Frequency)
	assert.Equal(t, time.Minute, c.Clean.Period)
	assert.Equal(t, 50*time.Millisecond, c.Replication.Counter.Frequency)
	assert.Equal(t, 1, c.Replication.Window.PoolSize)
	assert.Equal(t, 500*time.Millisecond, c.Lock.Timeout)
	assert.Equal(t, 2*time.Second, c.Lock.Expiry)
	assert.Equal(t, 5*time.Millisecond, c.Lock.RetryInterval)
	assert.Equal(t, 1000, c.DistributedCleanup.MaxRemovals)
	assert.False(t, c.DistributedCleanupEnabled())

	c.Clustering = true
	assert.True(t, c.DistributedCleanupEnabled())
	off := false
	c.DistributedCleanup.Enabled = &off
	assert.False(t, c.DistributedCleanupEnabled())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero clean frequency", func(c *Config) { c.Clean.Frequency = 0 }},
		{"zero pool size", func(c *Config) { c.Replication.Counter.PoolSize = 0 }},
		{"zero max removals", func(c *Config) { c.DistributedCleanup.MaxRemovals = 0 }},
		{"unknown store", func(c *Config) { c.Store.Backend = "zookeeper" }},
		{"unknown transport", func(c *Config) { c.Transport.Backend = "kafka" }},
		{"empty channel", func(c *Config) { c.Transport.Channel = "" }},
		{"zero breaker failures", func(c *Config) { c.Store.Breaker.Failures = 0 }},
		{"duplicate policy", func(c *Config) {
			c.Policies = []xpolicy.Config{ipPolicy("p", 1, 0), ipPolicy("p", 2, 0)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	data := []byte(`
throttle:
  node_id: node-1
  clustering: true
  replication:
    counter:
      frequency: 20ms
      pool_size: 4
  distributed_cleanup:
    max_removals: 50
  policies:
    - id: api
      kind: ip
      max_concurrent: 8
      rules:
        - match: 10.0.0.0/8
          max_requests: 100
          unit_time: 1m
          prohibit_time: 30s
      default:
        max_requests: 10
        unit_time: 1s
`)
	cfg, err := xconf.NewFromBytes(data, xconf.FormatYAML)
	require.NoError(t, err)

	c, err := LoadConfig(cfg, ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "node-1", c.NodeID)
	assert.True(t, c.Clustering)
	assert.Equal(t, 20*time.Millisecond, c.Replication.Counter.Frequency)
	assert.Equal(t, 4, c.Replication.Counter.PoolSize)
	assert.Equal(t, 50*time.Millisecond, c.Replication.Window.Frequency, "unset keys keep defaults")
	assert.Equal(t, 50, c.DistributedCleanup.MaxRemovals)
	assert.Equal(t, time.Hour, c.DistributedCleanup.TimestampExpiry)

	require.Len(t, c.Policies, 1)
	p := c.Policies[0]
	assert.Equal(t, xcaller.KindIP, p.Kind)
	assert.Equal(t, int64(8), p.MaxConcurrent)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, xcaller.Policy{MaxRequests: 100, UnitTime: time.Minute, ProhibitTime: 30 * time.Second}, p.Rules[0].Policy)
	require.NotNil(t, p.Default)
	assert.Equal(t, int64(10), p.Default.MaxRequests)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cfg, err := xconf.NewFromBytes([]byte(`{"throttle":{"store":{"backend":"nope"}}}`), xconf.FormatJSON)
	require.NoError(t, err)
	_, err = LoadConfig(cfg, ConfigPath)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNode_CheckAndAdmit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 2, 0)}
	clock := xclock.NewManual(base)
	n := newTestNode(t, cfg, WithClock(clock))

	assert.True(t, check(t, n, "10.0.0.1", "api").Allowed)
	assert.True(t, check(t, n, "10.0.0.1", "api").Allowed)

	d := check(t, n, "10.0.0.1", "api")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRate, d.Reason)
	assert.Equal(t, base+1000, d.RetryAt)

	err := d.Err()
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "10.0.0.1", de.CallerID)

	// 其他调用方不受影响。
	assert.True(t, check(t, n, "10.0.0.2", "api").Allowed)

	require.NoError(t, clock.Advance(time.Second))
	assert.True(t, check(t, n, "10.0.0.1", "api").Allowed)
}

func TestNode_UnknownPolicyAndFailOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 1, 0)}
	n := newTestNode(t, cfg)

	_, err := n.CheckAndAdmit(context.Background(), "10.0.0.1", "", "missing")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	// 没有命中规则也没有默认规则时放行。
	for range 5 {
		d := check(t, n, "192.168.0.1", "api")
		assert.True(t, d.Allowed)
		assert.NoError(t, d.Err())
	}
}

func TestNode_ConcurrencySlots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 100, 1)}
	n := newTestNode(t, cfg)
	ctx := context.Background()

	first := check(t, n, "10.0.0.1", "api")
	require.True(t, first.Allowed)
	assert.True(t, first.HoldsSlot)

	second := check(t, n, "10.0.0.2", "api")
	assert.False(t, second.Allowed)
	assert.Equal(t, ReasonConcurrency, second.Reason)

	n.Release(ctx, first)
	assert.True(t, check(t, n, "10.0.0.2", "api").Allowed)
}

func TestNode_ReleaseOncePerDecision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 100, 2)}
	n := newTestNode(t, cfg)
	ctx := context.Background()
	ctrl, ok := n.Holder().Controller("api")
	require.True(t, ok)

	a := check(t, n, "10.0.0.1", "api")
	b := check(t, n, "10.0.0.2", "api")
	denied := check(t, n, "10.0.0.3", "api")
	require.True(t, a.Allowed)
	require.True(t, b.Allowed)
	require.False(t, denied.Allowed)
	assert.Zero(t, ctrl.Available())

	// 每个请求结束都调用一次，被拒绝的请求不归还槽位。
	n.Release(ctx, denied)
	assert.Zero(t, ctrl.Available())
	n.Release(ctx, nil)
	assert.Zero(t, ctrl.Available())

	n.Release(ctx, a)
	n.Release(ctx, a)
	assert.Equal(t, int64(1), ctrl.Available())

	assert.True(t, check(t, n, "10.0.0.4", "api").Allowed)
	assert.False(t, check(t, n, "10.0.0.5", "api").Allowed)
}

func TestNode_UnlimitedRuleRetainsNoCallers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 0, 0)}
	n := newTestNode(t, cfg, WithClock(xclock.NewManual(base)))

	const callers = 1000
	for i := range callers {
		ip := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		require.True(t, check(t, n, ip, "api").Allowed)
	}

	tc := n.Holder().Context("api", xcaller.KindIP)
	require.NoError(t, tc.CleanupCallers(context.Background(), base+24*time.Hour.Milliseconds()))
	assert.Zero(t, tc.Len())
	for i := range callers {
		ip := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		require.Nil(t, tc.GetCallerContext(ip), ip)
	}
}

func TestNode_RateDenialReleasesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 1, 5)}
	n := newTestNode(t, cfg, WithClock(xclock.NewManual(base)))

	require.True(t, check(t, n, "10.0.0.1", "api").Allowed)
	d := check(t, n, "10.0.0.1", "api")
	require.False(t, d.Allowed)
	assert.False(t, d.HoldsSlot)

	ctrl, ok := n.Holder().Controller("api")
	require.True(t, ok)
	assert.Equal(t, int64(4), ctrl.Available())
}

func TestNode_Reload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 1, 2)}
	n := newTestNode(t, cfg, WithClock(xclock.NewManual(base)))

	require.True(t, check(t, n, "10.0.0.1", "api").Allowed)
	require.False(t, check(t, n, "10.0.0.1", "api").Allowed)
	before := n.Holder().Context("api", xcaller.KindIP).GetCallerContext("10.0.0.1")
	require.NotNil(t, before)

	bad := DefaultConfig()
	bad.Policies = []xpolicy.Config{{ID: "api"}}
	assert.ErrorIs(t, n.Reload(bad), ErrInvalidConfig)
	assert.False(t, check(t, n, "10.0.0.1", "api").Allowed, "failed reload keeps old policies")

	next := DefaultConfig()
	next.Policies = []xpolicy.Config{ipPolicy("api", 5, 0), ipPolicy("web", 1, 3)}
	require.NoError(t, n.Reload(next))

	after := n.Holder().Context("api", xcaller.KindIP).GetCallerContext("10.0.0.1")
	assert.Same(t, before, after, "callers survive reload")
	assert.True(t, check(t, n, "10.0.0.1", "api").Allowed)

	_, ok := n.Holder().Controller("api")
	assert.False(t, ok)
	ctrl, ok := n.Holder().Controller("web")
	require.True(t, ok)
	assert.Equal(t, int64(3), ctrl.Limit())
}

func TestNode_Closed(t *testing.T) {
	n, err := New(DefaultConfig(), WithLogger(xlog.Discard()))
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Close(), ErrClosed)
	_, err = n.CheckAndAdmit(context.Background(), "a", "", "p")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, n.Run(context.Background()), ErrClosed)
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clustering = true
	n := newTestNode(t, cfg, WithTransport(xcluster.NewHub(nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	assert.Error(t, n.Run(ctx), "second run is rejected")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestNode_ClusterCounterReplication(t *testing.T) {
	store, err := xcounter.NewLocal()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clock := xclock.NewManual(base)

	cfg := DefaultConfig()
	cfg.Clustering = true
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 3, 0)}
	a := newTestNode(t, cfg, WithStore(store), WithClock(clock))
	b := newTestNode(t, cfg, WithStore(store), WithClock(clock))
	ctx := context.Background()

	require.True(t, check(t, a, "10.0.0.1", "api").Allowed)
	require.True(t, check(t, a, "10.0.0.1", "api").Allowed)
	require.True(t, check(t, b, "10.0.0.1", "api").Allowed)

	a.counterRunner.Tick(ctx)
	b.counterRunner.Tick(ctx)

	got, err := store.GetCounter(ctx, "api:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	// b 已经看到集群计数，超限拒绝。
	assert.False(t, check(t, b, "10.0.0.1", "api").Allowed)
}

func TestNode_ClusterBroadcast(t *testing.T) {
	hub := xcluster.NewHub(nil)
	clock := xclock.NewManual(base)
	store, err := xcounter.NewLocal()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.Clustering = true
	cfg.Replication.BroadcastCallerState = true
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 2, 2)}
	a := newTestNode(t, cfg, WithStore(store), WithClock(clock), WithTransport(hub))
	b := newTestNode(t, cfg, WithStore(store), WithClock(clock), WithTransport(hub))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return hub.Subscribers(cfg.Transport.Channel) == 1 },
		time.Second, time.Millisecond)

	// 并发控制器状态同步到 b。
	require.True(t, check(t, a, "10.0.0.1", "api").Allowed)
	ctrl, ok := b.Holder().Controller("api")
	require.True(t, ok)
	require.Eventually(t, func() bool { return ctrl.Available() == 1 }, time.Second, time.Millisecond)

	// 计数复制后广播调用方快照，b 在本地开启同一窗口。
	require.True(t, check(t, a, "10.0.0.1", "api").Allowed)
	a.counterRunner.Tick(context.Background())
	require.Eventually(t, func() bool {
		cc := b.Holder().Caller("api:10.0.0.1")
		return cc != nil && cc.GlobalCounter() == 2
	}, time.Second, time.Millisecond)
	assert.False(t, check(t, b, "10.0.0.1", "api").Allowed)
}

func TestNode_Metrics(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	cfg := DefaultConfig()
	cfg.Policies = []xpolicy.Config{ipPolicy("api", 1, 0)}
	n := newTestNode(t, cfg, WithMeterProvider(provider), WithClock(xclock.NewManual(base)))
	check(t, n, "10.0.0.1", "api")
	check(t, n, "10.0.0.1", "api")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals[metricNameRequestsTotal])
	assert.Equal(t, int64(1), totals[metricNameDeniedTotal])
}
