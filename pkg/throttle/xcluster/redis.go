package xcluster

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTransport 基于 Redis Pub/Sub 的传输层。客户端由调用方管理。
type RedisTransport struct {
	client redis.UniversalClient
}

var _ Transport = (*RedisTransport)(nil)

// NewRedis 创建 Redis 传输层。
func NewRedis(client redis.UniversalClient) (*RedisTransport, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) Broadcast(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("xcluster: publish: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, payload []byte)) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	ps := t.client.Subscribe(ctx, channel)
	defer func() { _ = ps.Close() }()

	// 等待订阅确认，连接失败在这里返回。
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("xcluster: subscribe: %w", err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			handler(ctx, []byte(m.Payload))
		}
	}
}
