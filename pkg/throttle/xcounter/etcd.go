package xcounter

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

//go:generate mockgen -source=etcd.go -destination=etcd_mock_test.go -package=xcounter

// etcdKV etcd KV 操作，方法与 clientv3.KV 一致。
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// etcdLease etcd 租约操作，方法与 clientv3.Lease 一致。
type etcdLease interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	TimeToLive(ctx context.Context, id clientv3.LeaseID, opts ...clientv3.LeaseOption) (*clientv3.LeaseTimeToLiveResponse, error)
}

// etcdClient 存储需要的全部 etcd 操作。
type etcdClient interface {
	etcdKV
	etcdLease
}

var _ etcdClient = (*clientv3.Client)(nil)

// etcdStore 基于 etcd 的分布式存储。
//
// 值以十进制字符串保存；加减与变换使用 ModRevision 比较的 CAS 事务；
// 过期通过租约实现。客户端由调用方持有，Close 不关闭客户端。
type etcdStore struct {
	client etcdClient
	opts   *options
	closed atomic.Bool
}

// NewEtcd 创建 etcd 存储。
func NewEtcd(client *clientv3.Client, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return newEtcdStore(client, opts...)
}

func newEtcdStore(client etcdClient, opts ...Option) (*etcdStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &etcdStore{client: client, opts: o}, nil
}

func (s *etcdStore) check(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return checkKey(key)
}

// leaseSeconds 把时长向上取整为租约秒数，最少 1 秒。
func leaseSeconds(d time.Duration) int64 {
	sec := int64((d + time.Second - 1) / time.Second)
	if sec < 1 {
		return 1
	}
	return sec
}

func parseValue(op string, raw []byte) (int64, error) {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrInvalidValue, op, raw)
	}
	return v, nil
}

func (s *etcdStore) get(ctx context.Context, op, physical string) (int64, error) {
	resp, err := s.client.Get(ctx, physical)
	if err != nil {
		return 0, unavailable(op, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	return parseValue(op, resp.Kvs[0].Value)
}

func (s *etcdStore) put(ctx context.Context, op, physical string, value int64, expiry time.Duration) error {
	var putOpts []clientv3.OpOption
	if expiry > 0 {
		lease, err := s.client.Grant(ctx, leaseSeconds(expiry))
		if err != nil {
			return unavailable(op, err)
		}
		putOpts = append(putOpts, clientv3.WithLease(lease.ID))
	}
	if _, err := s.client.Put(ctx, physical, strconv.FormatInt(value, 10), putOpts...); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (s *etcdStore) del(ctx context.Context, op, physical string) error {
	if _, err := s.client.Delete(ctx, physical); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// alter 以 CAS 事务应用 fn，返回 (旧值, 新值)。
//
// 键不存在时比较 CreateRevision == 0，存在时比较 ModRevision 并保留原租约。
func (s *etcdStore) alter(ctx context.Context, op, physical string, fn AlterFunc) (int64, int64, error) {
	for range s.opts.maxTxRetries {
		resp, err := s.client.Get(ctx, physical)
		if err != nil {
			return 0, 0, unavailable(op, err)
		}

		var (
			cur  int64
			cmp  clientv3.Cmp
			opts []clientv3.OpOption
		)
		if len(resp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(physical), "=", 0)
		} else {
			kv := resp.Kvs[0]
			if cur, err = parseValue(op, kv.Value); err != nil {
				return 0, 0, err
			}
			cmp = clientv3.Compare(clientv3.ModRevision(physical), "=", kv.ModRevision)
			if kv.Lease != 0 {
				opts = append(opts, clientv3.WithIgnoreLease())
			}
		}

		next := fn(cur)
		txn, err := s.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(physical, strconv.FormatInt(next, 10), opts...)).
			Commit()
		if err != nil {
			return 0, 0, unavailable(op, err)
		}
		if txn.Succeeded {
			return cur, next, nil
		}
	}
	return 0, 0, ErrConflict
}

func (s *etcdStore) GetCounter(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.get(ctx, "get counter", CounterKey(key))
}

func (s *etcdStore) SetCounter(ctx context.Context, key string, value int64) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.put(ctx, "set counter", CounterKey(key), value, 0)
}

func (s *etcdStore) SetCounterWithExpiry(ctx context.Context, key string, value int64, expiry time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.put(ctx, "set counter", CounterKey(key), value, expiry)
}

func (s *etcdStore) AddAndGetCounter(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	_, next, err := s.alter(ctx, "add counter", CounterKey(key), add(delta))
	return next, err
}

func (s *etcdStore) RemoveCounter(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.del(ctx, "remove counter", CounterKey(key))
}

func (s *etcdStore) GetTimestamp(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	return s.get(ctx, "get timestamp", TimestampKey(key))
}

func (s *etcdStore) SetTimestamp(ctx context.Context, key string, millis int64) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.put(ctx, "set timestamp", TimestampKey(key), millis, 0)
}

func (s *etcdStore) AddAndGetTimestamp(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	_, next, err := s.alter(ctx, "add timestamp", TimestampKey(key), add(delta))
	return next, err
}

func (s *etcdStore) RemoveTimestamp(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.del(ctx, "remove timestamp", TimestampKey(key))
}

// GetTTL 读取计数器所挂租约的剩余时间，精度为秒。
func (s *etcdStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	resp, err := s.client.Get(ctx, CounterKey(key))
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	if len(resp.Kvs) == 0 {
		return NotFound, nil
	}
	lease := clientv3.LeaseID(resp.Kvs[0].Lease)
	if lease == clientv3.NoLease {
		return NoExpiry, nil
	}
	ttl, err := s.client.TimeToLive(ctx, lease)
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	if ttl.TTL < 0 {
		return NotFound, nil
	}
	return time.Duration(ttl.TTL) * time.Second, nil
}

func (s *etcdStore) async(ctx context.Context, fn func(ctx context.Context) (int64, error)) *Future {
	f := newFuture()
	go func() {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.opTimeout)
		defer cancel()
		f.resolve(fn(opCtx))
	}()
	return f
}

func (s *etcdStore) AsyncGetAndAddCounter(ctx context.Context, key string, delta int64) *Future {
	return s.AsyncGetAndAlterCounter(ctx, key, add(delta))
}

func (s *etcdStore) AsyncGetAndAlterCounter(ctx context.Context, key string, fn AlterFunc) *Future {
	if err := s.check(key); err != nil {
		return completed(0, err)
	}
	if fn == nil {
		return completed(0, ErrNilFunc)
	}
	return s.async(ctx, func(ctx context.Context) (int64, error) {
		prev, _, err := s.alter(ctx, "get and alter counter", CounterKey(key), fn)
		return prev, err
	})
}

// LockSharedKeys 先申请一个租约，随后在重试循环中以 CreateRevision == 0
// 事务写入锁键；未拿到锁时撤销租约。
func (s *etcdStore) LockSharedKeys(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	lease, err := s.client.Grant(ctx, leaseSeconds(s.opts.lockExpiry))
	if err != nil {
		return false, unavailable("lock", err)
	}
	physical := LockKey(key)
	ok, err := acquireLoop(ctx, s.opts, func(ctx context.Context) (bool, error) {
		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(physical), "=", 0)).
			Then(clientv3.OpPut(physical, value, clientv3.WithLease(lease.ID))).
			Commit()
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, unavailable("lock", err)
		}
		return resp.Succeeded, nil
	})
	if !ok {
		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.opTimeout)
		defer cancel()
		if _, rErr := s.client.Revoke(revokeCtx, lease.ID); rErr != nil {
			s.opts.logger.Debug(ctx, "revoke lock lease failed", xlog.Key(key), xlog.Err(rErr))
		}
	}
	return ok, err
}

func (s *etcdStore) ReleaseSharedKeys(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	physical := LockKey(key)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(physical), "=", value)).
		Then(clientv3.OpDelete(physical)).
		Commit()
	if err != nil {
		return false, unavailable("release", err)
	}
	return resp.Succeeded, nil
}

func (s *etcdStore) ListKeys(ctx context.Context) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := s.client.Get(ctx, "xthrottle:", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, unavailable("list", err)
	}
	out := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if e, ok := ParseKey(string(kv.Key)); ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *etcdStore) IsEnabled() bool { return !s.closed.Load() }

func (s *etcdStore) Type() Type { return TypeEtcd }

func (s *etcdStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}
