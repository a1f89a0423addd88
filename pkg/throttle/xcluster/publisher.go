package xcluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xconcurrency"
)

// Publisher 以本节点身份广播状态。
type Publisher struct {
	transport Transport
	node      string
	channel   string
	seq       atomic.Uint64
	logger    xlog.Logger
}

var _ xconcurrency.Replicator = (*Publisher)(nil)

// NewPublisher 创建 Publisher。logger 为 nil 时丢弃日志。
func NewPublisher(t Transport, nodeID, channel string, logger xlog.Logger) (*Publisher, error) {
	switch {
	case t == nil:
		return nil, ErrNilTransport
	case nodeID == "":
		return nil, ErrEmptyNodeID
	case channel == "":
		return nil, ErrEmptyChannel
	}
	if logger == nil {
		logger = xlog.Discard()
	}
	p := &Publisher{transport: t, node: nodeID, channel: channel, logger: logger}
	// 序号从启动时间开始，节点以相同标识重启后仍然递增。
	p.seq.Store(uint64(time.Now().UnixNano()))
	return p, nil
}

// NodeID 返回本节点标识。
func (p *Publisher) NodeID() string { return p.node }

// Publish 编码并广播一条消息。
func (p *Publisher) Publish(ctx context.Context, kind MessageKind, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("xcluster: encode %s payload: %w", kind, err)
	}
	data, err := json.Marshal(Envelope{
		Node:    p.node,
		Seq:     p.seq.Add(1),
		Kind:    kind,
		Key:     key,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("xcluster: encode envelope: %w", err)
	}
	return p.transport.Broadcast(ctx, p.channel, data)
}

// BroadcastCaller 广播调用方快照，失败只记录日志。
func (p *Publisher) BroadcastCaller(ctx context.Context, s xcaller.Snapshot) {
	if err := p.Publish(ctx, KindCaller, s.Key, s); err != nil {
		p.logger.Warn(ctx, "caller state broadcast failed", xlog.Key(s.Key), xlog.Err(err))
	}
}

// Replicate 实现 xconcurrency.Replicator。
func (p *Publisher) Replicate(ctx context.Context, key string, state xconcurrency.State) error {
	return p.Publish(ctx, KindConcurrency, key, state)
}
