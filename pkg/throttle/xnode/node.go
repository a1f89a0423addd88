package xnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/xthrottle/pkg/context/xctx"
	"github.com/omeyang/xthrottle/pkg/distributed/xcron"
	"github.com/omeyang/xthrottle/pkg/lifecycle/xrun"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcleanup"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xconcurrency"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/throttle/xpolicy"
	"github.com/omeyang/xthrottle/pkg/throttle/xreplica"
	"github.com/omeyang/xthrottle/pkg/throttle/xthrottle"
)

// Job 名称，也是分布式清理锁的键。
const (
	jobLocalCleanup       = "local-cleanup"
	jobDistributedCleanup = "distributed-cleanup"
)

// Node 一个节流节点。
type Node struct {
	id      string
	cfg     Config
	opts    *options
	logger  xlog.Logger
	metrics *Metrics

	holder  *xthrottle.Holder
	pending *xreplica.Pending
	store   xcounter.Store
	// local 节点自建的进程内存储，Close 时关闭。
	local xcounter.Store

	counterRunner *xreplica.Runner
	windowRunner  *xreplica.Runner
	scheduler     xcron.Scheduler
	publisher     *xcluster.Publisher
	receiver      *xcluster.Receiver

	mu       sync.Mutex
	policies atomic.Pointer[map[string]*xpolicy.Policy]

	running atomic.Bool
	closed  atomic.Bool
}

// New 按配置创建节点。
func New(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	compiled, err := xpolicy.CompileAll(cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	metrics, err := NewMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xnode: create metrics: %w", err)
	}

	id := cfg.NodeID
	if id == "" {
		id = uuid.NewString()
	}
	n := &Node{
		id:      id,
		cfg:     cfg,
		opts:    o,
		logger:  o.logger.With(xlog.Component("xthrottle"), slog.String("node_id", id)),
		metrics: metrics,
		pending: xreplica.NewPending(),
	}
	n.policies.Store(&compiled)

	if err := n.setupStore(); err != nil {
		return nil, err
	}
	if err := n.setupHolder(); err != nil {
		n.closeStores()
		return nil, err
	}
	if err := n.setupCluster(); err != nil {
		n.closeAll()
		return nil, err
	}
	if err := n.setupReplication(); err != nil {
		n.closeAll()
		return nil, err
	}
	if err := n.setupCleanup(); err != nil {
		n.closeAll()
		return nil, err
	}
	n.syncControllers(compiled)
	return n, nil
}

func (n *Node) storeOptions() []xcounter.Option {
	return []xcounter.Option{
		xcounter.WithLockTimeout(n.cfg.Lock.Timeout),
		xcounter.WithLockExpiry(n.cfg.Lock.Expiry),
		xcounter.WithRetryInterval(n.cfg.Lock.RetryInterval),
		xcounter.WithClock(n.opts.clock),
		xcounter.WithLogger(n.logger),
	}
}

// setupStore 分布式存储包装为熔断降级存储，否则使用进程内存储。
func (n *Node) setupStore() error {
	local, err := xcounter.NewLocal(n.storeOptions()...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	n.local = local

	remote := n.opts.store
	if remote == nil {
		n.store = local
		return nil
	}
	if remote.Type() == xcounter.TypeLocal {
		// 单进程模拟多个节点时共享同一个进程内存储。
		n.store = remote
		return nil
	}
	fb, err := xcounter.NewFallback(remote, local, append(n.storeOptions(),
		xcounter.WithBreaker(n.cfg.Store.Breaker.Failures, n.cfg.Store.Breaker.OpenTimeout),
		xcounter.WithOnFallback(func(ctx context.Context, op string, _ error) {
			n.metrics.RecordFallback(ctx, op)
		}),
	)...)
	if err != nil {
		_ = local.Close()
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	n.store = fb
	return nil
}

func (n *Node) setupHolder() error {
	var flusher xthrottle.Flusher = xthrottle.NoopFlusher{}
	if n.cfg.Clustering {
		flusher = n.pending
	}
	n.holder = xthrottle.NewHolder()
	return n.holder.Init(
		xthrottle.WithClustering(n.cfg.Clustering),
		xthrottle.WithCleanPeriod(n.cfg.Clean.Period),
		xthrottle.WithFlusher(flusher),
		xthrottle.WithLogger(n.logger),
	)
}

func (n *Node) setupCluster() error {
	if n.opts.transport == nil {
		return nil
	}
	pub, err := xcluster.NewPublisher(n.opts.transport, n.id, n.cfg.Transport.Channel, n.logger)
	if err != nil {
		return err
	}
	recv, err := xcluster.NewReceiver(n.opts.transport, n.id, n.cfg.Transport.Channel,
		xcluster.WithReceiverLogger(n.logger))
	if err != nil {
		return err
	}
	recv.On(xcluster.KindCaller, n.applyCaller)
	recv.On(xcluster.KindConcurrency, n.applyConcurrency)
	n.publisher = pub
	n.receiver = recv
	return nil
}

func (n *Node) setupReplication() error {
	common := []xreplica.Option{
		xreplica.WithClock(n.opts.clock),
		xreplica.WithLogger(n.logger),
		xreplica.WithObserver(n.opts.observer),
	}
	locker := n.holder.Locker()

	counterOpts := common
	if n.cfg.Replication.BroadcastCallerState && n.publisher != nil {
		counterOpts = append(counterOpts[:len(counterOpts):len(counterOpts)], xreplica.WithBroadcaster(n.publisher))
	}
	cr, err := xreplica.NewCounterReplicator(n.store, n.holder, locker, counterOpts...)
	if err != nil {
		return err
	}
	wr, err := xreplica.NewWindowReplicator(n.store, n.holder, locker,
		append(common[:len(common):len(common)], xreplica.WithCounterSet(n.pending.Counters))...)
	if err != nil {
		return err
	}

	n.counterRunner, err = xreplica.NewRunner("counter-replication", n.pending.Counters, cr.Replicate,
		append(common[:len(common):len(common)],
			xreplica.WithFrequency(n.cfg.Replication.Counter.Frequency),
			xreplica.WithPoolSize(n.cfg.Replication.Counter.PoolSize))...)
	if err != nil {
		return err
	}
	n.windowRunner, err = xreplica.NewRunner("window-replication", n.pending.Windows, wr.Replicate,
		append(common[:len(common):len(common)],
			xreplica.WithFrequency(n.cfg.Replication.Window.Frequency),
			xreplica.WithPoolSize(n.cfg.Replication.Window.PoolSize))...)
	return err
}

func (n *Node) setupCleanup() error {
	n.scheduler = xcron.New(
		xcron.WithLogger(n.logger),
		xcron.WithObserver(n.opts.observer),
	)

	lc, err := xcleanup.NewLocalCleaner(n.holder,
		xcleanup.WithClock(n.opts.clock), xcleanup.WithLogger(n.logger))
	if err != nil {
		return err
	}
	if _, err := n.scheduler.AddJob(xcron.Every(n.cfg.Clean.Frequency), lc,
		xcron.WithName(jobLocalCleanup)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if !n.cfg.DistributedCleanupEnabled() {
		return nil
	}
	dc, err := xcleanup.NewDistributedCleaner(n.store,
		xcleanup.WithClock(n.opts.clock),
		xcleanup.WithLogger(n.logger),
		xcleanup.WithTimestampExpiry(n.cfg.DistributedCleanup.TimestampExpiry),
		xcleanup.WithMaxRemovals(n.cfg.DistributedCleanup.MaxRemovals))
	if err != nil {
		return err
	}
	locker, err := xcleanup.NewStoreLocker(n.store, uuid.NewString)
	if err != nil {
		return err
	}
	if _, err := n.scheduler.AddJob(xcron.Every(n.cfg.DistributedCleanup.Frequency), dc,
		xcron.WithName(jobDistributedCleanup), xcron.WithJobLocker(locker)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ID 返回节点标识。
func (n *Node) ID() string { return n.id }

// Holder 返回节点数据持有者。
func (n *Node) Holder() *xthrottle.Holder { return n.holder }

// Store 返回节点使用的计数存储。
func (n *Node) Store() xcounter.Store { return n.store }

func (n *Node) policy(id string) (*xpolicy.Policy, bool) {
	p, ok := (*n.policies.Load())[id]
	return p, ok
}

// CheckAndAdmit 判定一次请求是否放行。
//
// 被拒绝时 Decision.Allowed 为 false，Decision.Err 返回 *DeniedError；
// 配置错误与未知策略作为 error 返回。每个请求结束时（成功、超时或故障）
// 对返回的 Decision 调用一次 Release。
func (n *Node) CheckAndAdmit(ctx context.Context, callerID, roleID, policyID string) (*Decision, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	pol, ok := n.policy(policyID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyID)
	}

	d := &Decision{PolicyID: policyID, CallerID: callerID}
	if ctrl, ok := n.holder.Controller(policyID); ok {
		if !ctrl.Acquire(ctx) {
			d.Reason = ReasonConcurrency
			n.finish(ctx, d, start)
			return d, nil
		}
		d.HoldsSlot = true
	}

	allowed, retryAt, err := n.admit(ctx, pol, callerID, roleID)
	if err != nil {
		n.releaseSlot(ctx, d)
		return nil, err
	}
	if !allowed {
		n.releaseSlot(ctx, d)
		d.Reason = ReasonRate
		d.RetryAt = retryAt
	}
	d.Allowed = allowed
	n.finish(ctx, d, start)
	return d, nil
}

func (n *Node) admit(ctx context.Context, pol *xpolicy.Policy, callerID, roleID string) (bool, int64, error) {
	cp := pol.Resolve(callerID, roleID)
	if cp == nil || cp.Unlimited() {
		return true, 0, nil
	}
	tc := n.holder.Context(pol.ID(), pol.Kind())
	cc := tc.GetOrCreateCallerContext(pol.Kind().ConfigurationLookupKey(callerID, roleID), roleID)
	now := n.opts.clock.NowMillis()
	ok, err := cc.CanAccess(ctx, cp, tc, now)
	if err != nil {
		return false, 0, err
	}
	if err := tc.ProcessCleanList(ctx, now); err != nil {
		n.logger.Warn(ctx, "caller cleanup reported corrupted state", xlog.PolicyID(pol.ID()), xlog.Err(err))
	}
	if !ok {
		return false, cc.NextAccessTime(), nil
	}
	return true, 0, nil
}

func (n *Node) releaseSlot(ctx context.Context, d *Decision) {
	if !d.HoldsSlot {
		return
	}
	if ctrl, ok := n.holder.Controller(d.PolicyID); ok {
		ctrl.Release(ctx)
	}
	d.HoldsSlot = false
}

func (n *Node) finish(ctx context.Context, d *Decision, start time.Time) {
	elapsed := time.Since(start)
	n.metrics.RecordDecision(ctx, d.PolicyID, d.Allowed, d.Reason, elapsed)
	if !d.Allowed {
		if lctx, err := xctx.WithThrottle(ctx, d.PolicyID, d.CallerID); err == nil {
			ctx = lctx
		}
		n.logger.Debug(ctx, "request throttled",
			xlog.Operation(string(d.Reason)), xlog.Duration(elapsed))
	}
}

// Release 在请求结束时归还 d 占用的并发槽位。
//
// 未占用槽位的判定（被拒绝、策略没有并发上限）不做任何事，同一判定重复
// 调用只归还一次，因此请求管线可以对每个请求无条件调用。
func (n *Node) Release(ctx context.Context, d *Decision) {
	if d == nil || !d.HoldsSlot || !d.released.CompareAndSwap(false, true) {
		return
	}
	n.ReleaseConcurrencySlot(ctx, d.PolicyID)
}

// ReleaseConcurrencySlot 无条件归还策略的一个并发槽位。策略没有并发上限时
// 不做任何事。调用方须自行保证只为占用了槽位的请求调用，否则用 Release。
func (n *Node) ReleaseConcurrencySlot(ctx context.Context, policyID string) {
	if ctrl, ok := n.holder.Controller(policyID); ok {
		ctrl.Release(ctx)
	}
}

// Reload 校验并整体替换策略。已有调用方状态保留；并发上限变化的策略
// 重建其控制器。其余配置项只在创建节点时生效。
func (n *Node) Reload(cfg Config) error {
	if err := validatePolicies(cfg.Policies); err != nil {
		return err
	}
	compiled, err := xpolicy.CompileAll(cfg.Policies)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.policies.Store(&compiled)
	n.syncControllers(compiled)
	n.cfg.Policies = cfg.Policies
	n.logger.Info(context.Background(), "policies reloaded", xlog.Count(len(compiled)))
	return nil
}

// syncControllers 使并发控制器与策略一致。
func (n *Node) syncControllers(compiled map[string]*xpolicy.Policy) {
	for id, ctrl := range n.holder.Controllers() {
		p, ok := compiled[id]
		if !ok || p.MaxConcurrent() != ctrl.Limit() {
			n.holder.StoreController(id, nil)
		}
	}
	for id, p := range compiled {
		if p.MaxConcurrent() <= 0 {
			continue
		}
		if _, ok := n.holder.Controller(id); ok {
			continue
		}
		opts := []xconcurrency.Option{xconcurrency.WithLogger(n.logger)}
		if n.publisher != nil {
			opts = append(opts, xconcurrency.WithReplicator(n.publisher))
		}
		ctrl, err := xconcurrency.New(id, p.MaxConcurrent(), opts...)
		if err != nil {
			// 策略已校验，MaxConcurrent 必为正。
			continue
		}
		n.holder.StoreController(id, ctrl)
	}
}

// Run 运行后台任务，阻塞到 ctx 取消。只能调用一次。
func (n *Node) Run(ctx context.Context) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("xnode: node %s is already running", n.id)
	}
	if lctx, err := xctx.WithNodeID(ctx, n.id); err == nil {
		ctx = lctx
	}

	g, _ := xrun.NewGroup(ctx, xrun.WithName("xthrottle"), xrun.WithLogger(n.logger))
	if n.cfg.Clustering {
		g.GoWithName("counter-replication", n.counterRunner.Run)
		g.GoWithName("window-replication", n.windowRunner.Run)
	}
	g.GoWithName("cleanup", n.scheduler.Run)
	if n.receiver != nil {
		g.GoWithName("cluster-receiver", n.receiver.Run)
	}
	n.logger.Info(ctx, "throttle node started",
		xlog.Backend(string(n.store.Type())), xlog.Count(len(*n.policies.Load())))
	return g.Wait()
}

// Close 释放节点资源。外部传入的存储与传输层由调用方关闭。
func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return n.closeAll()
}

func (n *Node) closeAll() error {
	var errs []error
	if n.holder != nil {
		errs = append(errs, n.holder.Close())
	}
	errs = append(errs, n.closeStores())
	return errors.Join(errs...)
}

func (n *Node) closeStores() error {
	if n.local == nil {
		return nil
	}
	return n.local.Close()
}
