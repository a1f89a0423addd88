package xnode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xconcurrency"
)

// applyCaller 合并对端广播的调用方快照。
//
// 本地已有该调用方时按窗口新旧合并；本地没有且窗口仍未结束时，
// 以快照开启本地窗口，使后续请求直接看到集群计数。
func (n *Node) applyCaller(ctx context.Context, env xcluster.Envelope) error {
	var s xcaller.Snapshot
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return fmt.Errorf("xnode: decode caller snapshot: %w", err)
	}
	policyID, callerID, ok := strings.Cut(env.Key, ":")
	if !ok {
		return fmt.Errorf("xnode: malformed caller key %q", env.Key)
	}
	pol, ok := n.policy(policyID)
	if !ok {
		return nil
	}

	h, err := n.holder.Locker().Acquire(ctx, env.Key)
	if err != nil {
		return err
	}
	defer func() { _ = h.Unlock() }()

	if cc := n.holder.Caller(env.Key); cc != nil {
		if cc.ApplySnapshot(s) {
			n.holder.Reindex(cc)
		}
		return nil
	}
	if s.NextTimeWindow <= n.opts.clock.NowMillis() {
		return nil
	}
	tc := n.holder.Context(policyID, pol.Kind())
	cc := tc.GetOrCreateCallerContext(callerID, s.RoleID)
	if cc.FirstAccessTime() != 0 {
		// 持锁前已被请求开启窗口。
		if cc.ApplySnapshot(s) {
			n.holder.Reindex(cc)
		}
		return nil
	}
	cc.ApplySnapshot(s)
	tc.AddCallerContext(cc)
	return nil
}

// applyConcurrency 采用对端的并发控制器状态。
func (n *Node) applyConcurrency(_ context.Context, env xcluster.Envelope) error {
	var s xconcurrency.State
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return fmt.Errorf("xnode: decode concurrency state: %w", err)
	}
	if ctrl, ok := n.holder.Controller(env.Key); ok {
		ctrl.Apply(s)
	}
	return nil
}
