package xcluster

import (
	"context"
	"sync"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

const hubBuffer = 256

// Hub 进程内传输层，用于测试和单进程多节点模拟。
//
// 订阅者缓冲区满时丢弃消息，与网络传输的尽力投递一致。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	logger xlog.Logger
}

var _ Transport = (*Hub)(nil)

// NewHub 创建 Hub，logger 为 nil 时不记录丢弃。
func NewHub(logger xlog.Logger) *Hub {
	if logger == nil {
		logger = xlog.Discard()
	}
	return &Hub{subs: make(map[string]map[chan []byte]struct{}), logger: logger}
}

func (h *Hub) Broadcast(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[channel] {
		select {
		case ch <- payload:
		default:
			h.logger.Warn(ctx, "hub subscriber buffer full, dropping message", xlog.Key(channel))
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, payload []byte)) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	ch := make(chan []byte, hubBuffer)
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[chan []byte]struct{})
	}
	h.subs[channel][ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs[channel], ch)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-ch:
			handler(ctx, p)
		}
	}
}

// Subscribers 返回频道当前订阅者数量。
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
