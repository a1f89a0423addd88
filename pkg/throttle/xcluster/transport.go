package xcluster

import (
	"context"
	"encoding/json"
)

// DefaultChannel 默认广播频道。
const DefaultChannel = "xthrottle:events"

// MessageKind 消息类别。
type MessageKind string

const (
	KindCaller      MessageKind = "caller"
	KindConcurrency MessageKind = "concurrency"
)

// Envelope 广播消息。
type Envelope struct {
	Node    string          `json:"node"`
	Seq     uint64          `json:"seq"`
	Kind    MessageKind     `json:"kind"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// Transport 集群传输层。
type Transport interface {
	// Broadcast 向频道发送 payload，不等待接收方。
	Broadcast(ctx context.Context, channel string, payload []byte) error
	// Subscribe 订阅频道并对每条消息调用 handler，阻塞到 ctx 取消。
	Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, payload []byte)) error
}
