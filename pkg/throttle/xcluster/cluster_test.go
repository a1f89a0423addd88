package xcluster

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xconcurrency"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *collector) handle(_ context.Context, env Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func (c *collector) last() Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envs[len(c.envs)-1]
}

// runReceiver 在后台运行接收者，测试结束时停止并等待退出。
func runReceiver(t *testing.T, r *Receiver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func envelope(t *testing.T, node string, seq uint64, key string) []byte {
	t.Helper()
	b, err := json.Marshal(Envelope{Node: node, Seq: seq, Kind: KindCaller, Key: key, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	return b
}

func TestConstructors_Validation(t *testing.T) {
	hub := NewHub(nil)
	_, err := NewPublisher(nil, "n", DefaultChannel, nil)
	assert.ErrorIs(t, err, ErrNilTransport)
	_, err = NewPublisher(hub, "", DefaultChannel, nil)
	assert.ErrorIs(t, err, ErrEmptyNodeID)
	_, err = NewReceiver(hub, "n", "")
	assert.ErrorIs(t, err, ErrEmptyChannel)
	_, err = NewReceiver(hub, "n", DefaultChannel, WithDedupeSize(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewRedis(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestReceiver_DropsOwnAndStale(t *testing.T) {
	r, err := NewReceiver(NewHub(nil), "self", DefaultChannel)
	require.NoError(t, err)
	c := &collector{}
	r.On(KindCaller, c.handle)
	ctx := context.Background()

	r.Handle(ctx, envelope(t, "self", 1, "p:a"))
	assert.Zero(t, c.len())

	r.Handle(ctx, envelope(t, "peer", 5, "p:a"))
	r.Handle(ctx, envelope(t, "peer", 5, "p:a"))
	r.Handle(ctx, envelope(t, "peer", 4, "p:a"))
	assert.Equal(t, 1, c.len())

	// 序号按键独立跟踪。
	r.Handle(ctx, envelope(t, "peer", 3, "p:b"))
	r.Handle(ctx, envelope(t, "peer", 6, "p:a"))
	assert.Equal(t, 3, c.len())

	r.Handle(ctx, []byte("not json"))
	assert.Equal(t, 3, c.len())
}

func TestHub_PublishAndReceive(t *testing.T) {
	hub := NewHub(nil)
	pub, err := NewPublisher(hub, "node-a", DefaultChannel, nil)
	require.NoError(t, err)
	r, err := NewReceiver(hub, "node-b", DefaultChannel)
	require.NoError(t, err)
	c := &collector{}
	r.On(KindCaller, c.handle)
	runReceiver(t, r)
	require.Eventually(t, func() bool { return hub.Subscribers(DefaultChannel) == 1 }, time.Second, time.Millisecond)

	snap := xcaller.Snapshot{ID: "a", Key: "p:a", Kind: xcaller.KindIP, GlobalCounter: 4}
	pub.BroadcastCaller(context.Background(), snap)

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, time.Millisecond)
	env := c.last()
	assert.Equal(t, "node-a", env.Node)
	assert.Equal(t, "p:a", env.Key)
	var got xcaller.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, snap, got)
}

func TestPublisher_ReplicatesConcurrencyState(t *testing.T) {
	hub := NewHub(nil)
	pub, err := NewPublisher(hub, "node-a", DefaultChannel, nil)
	require.NoError(t, err)
	local, err := xconcurrency.New("p", 3, xconcurrency.WithReplicator(pub))
	require.NoError(t, err)
	peer, err := xconcurrency.New("p", 3)
	require.NoError(t, err)

	r, err := NewReceiver(hub, "node-b", DefaultChannel)
	require.NoError(t, err)
	r.On(KindConcurrency, func(_ context.Context, env Envelope) error {
		var s xconcurrency.State
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return err
		}
		peer.Apply(s)
		return nil
	})
	runReceiver(t, r)
	require.Eventually(t, func() bool { return hub.Subscribers(DefaultChannel) == 1 }, time.Second, time.Millisecond)

	require.True(t, local.Acquire(context.Background()))
	require.True(t, local.Acquire(context.Background()))
	require.Eventually(t, func() bool { return peer.Available() == 1 }, time.Second, time.Millisecond)
}

func TestRedisTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr, err := NewRedis(client)
	require.NoError(t, err)
	pub, err := NewPublisher(tr, "node-a", DefaultChannel, nil)
	require.NoError(t, err)
	r, err := NewReceiver(tr, "node-b", DefaultChannel)
	require.NoError(t, err)
	c := &collector{}
	r.On(KindCaller, c.handle)
	runReceiver(t, r)

	// 订阅建立之前发布的消息会丢失，持续发布直到收到。
	require.Eventually(t, func() bool {
		pub.BroadcastCaller(context.Background(), xcaller.Snapshot{Key: "p:a"})
		return c.len() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "p:a", c.last().Key)
}

func TestRedisTransport_BroadcastError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	tr, err := NewRedis(client)
	require.NoError(t, err)
	assert.Error(t, tr.Broadcast(context.Background(), DefaultChannel, []byte("x")))
	assert.ErrorIs(t, tr.Broadcast(context.Background(), "", nil), ErrEmptyChannel)
}
