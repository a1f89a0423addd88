package xcluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

// DefaultDedupeSize 记录最近序号的 (节点, 键) 数量上限。
const DefaultDedupeSize = 65536

// HandlerFunc 处理一条已去重的消息。
type HandlerFunc func(ctx context.Context, env Envelope) error

// ReceiverOption 接收者选项。
type ReceiverOption func(*Receiver)

// WithDedupeSize 设置去重表大小。
func WithDedupeSize(n int) ReceiverOption {
	return func(r *Receiver) { r.dedupeSize = n }
}

// WithReceiverLogger 设置日志。
func WithReceiverLogger(l xlog.Logger) ReceiverOption {
	return func(r *Receiver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Receiver 订阅频道并分发消息。
type Receiver struct {
	transport  Transport
	node       string
	channel    string
	dedupeSize int
	logger     xlog.Logger

	mu       sync.Mutex
	lastSeq  *lru.Cache[string, uint64]
	handlers map[MessageKind]HandlerFunc
}

// NewReceiver 创建接收者，nodeID 为本节点标识，用于丢弃自己发出的消息。
func NewReceiver(t Transport, nodeID, channel string, opts ...ReceiverOption) (*Receiver, error) {
	switch {
	case t == nil:
		return nil, ErrNilTransport
	case nodeID == "":
		return nil, ErrEmptyNodeID
	case channel == "":
		return nil, ErrEmptyChannel
	}
	r := &Receiver{
		transport:  t,
		node:       nodeID,
		channel:    channel,
		dedupeSize: DefaultDedupeSize,
		logger:     xlog.Discard(),
		handlers:   make(map[MessageKind]HandlerFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.dedupeSize <= 0 {
		return nil, fmt.Errorf("%w: dedupe size must be positive, got %d", ErrInvalidOption, r.dedupeSize)
	}
	cache, err := lru.New[string, uint64](r.dedupeSize)
	if err != nil {
		return nil, err
	}
	r.lastSeq = cache
	return r, nil
}

// On 注册某类消息的处理函数，须在 Run 之前调用。
func (r *Receiver) On(kind MessageKind, fn HandlerFunc) {
	r.handlers[kind] = fn
}

// Run 订阅频道，阻塞到 ctx 取消。
func (r *Receiver) Run(ctx context.Context) error {
	return r.transport.Subscribe(ctx, r.channel, r.Handle)
}

// Handle 解码并分发一条原始消息。
func (r *Receiver) Handle(ctx context.Context, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn(ctx, "dropping undecodable cluster message", xlog.Err(err))
		return
	}
	if !r.accept(env) {
		return
	}
	fn := r.handlers[env.Kind]
	if fn == nil {
		r.logger.Debug(ctx, "no handler for cluster message", xlog.Key(env.Key), xlog.Operation(string(env.Kind)))
		return
	}
	if err := fn(ctx, env); err != nil {
		r.logger.Warn(ctx, "cluster message handling failed",
			xlog.Key(env.Key), xlog.Operation(string(env.Kind)), xlog.Err(err))
	}
}

// accept 丢弃本节点消息与不新于已见序号的消息。
func (r *Receiver) accept(env Envelope) bool {
	if env.Node == r.node {
		return false
	}
	id := env.Node + "\x00" + string(env.Kind) + "\x00" + env.Key
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastSeq.Get(id); ok && env.Seq <= last {
		return false
	}
	r.lastSeq.Add(id, env.Seq)
	return true
}
