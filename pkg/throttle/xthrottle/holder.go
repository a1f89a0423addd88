package xthrottle

import (
	"sort"
	"strings"
	"sync"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xconcurrency"
	"github.com/omeyang/xthrottle/pkg/util/xkeylock"
)

// Holder 节点级节流数据。
type Holder struct {
	once       sync.Once
	opts       *options
	ownsLocker bool
	initErr    error

	mu          sync.RWMutex
	callers     map[string]*xcaller.CallerContext
	contexts    map[string]*Context
	controllers map[string]*xconcurrency.Controller
}

// NewHolder 返回未初始化的 Holder。
//
// 显式调用 Init 设置选项；未调用时首次使用按默认选项初始化。
func NewHolder() *Holder {
	return &Holder{}
}

// Init 以 opts 初始化，只能成功执行一次。
func (h *Holder) Init(opts ...Option) error {
	ran := false
	h.once.Do(func() {
		ran = true
		h.initErr = h.init(opts)
	})
	if !ran {
		return ErrAlreadyInitialized
	}
	return h.initErr
}

func (h *Holder) ensure() {
	h.once.Do(func() {
		h.initErr = h.init(nil)
	})
}

func (h *Holder) init(opts []Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		o = defaultOptions()
		h.setup(o)
		return err
	}
	h.setup(o)
	return nil
}

func (h *Holder) setup(o *options) {
	if o.locker == nil {
		// 默认参数下 xkeylock.New 不会失败。
		l, _ := xkeylock.New()
		o.locker = l
		h.ownsLocker = true
	}
	h.opts = o
	h.callers = make(map[string]*xcaller.CallerContext)
	h.contexts = make(map[string]*Context)
	h.controllers = make(map[string]*xconcurrency.Controller)
}

// Clustering 报告是否处于集群模式。
func (h *Holder) Clustering() bool {
	h.ensure()
	return h.opts.clustering
}

// Locker 返回调用方键锁。
func (h *Holder) Locker() xkeylock.Locker {
	h.ensure()
	return h.opts.locker
}

// Context 返回策略的节流上下文，不存在时创建。
func (h *Holder) Context(policyID string, kind xcaller.Kind) *Context {
	h.ensure()
	h.mu.RLock()
	c, ok := h.contexts[policyID]
	h.mu.RUnlock()
	if ok {
		return c
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok = h.contexts[policyID]; ok {
		return c
	}
	c = newContext(policyID, kind, h)
	h.contexts[policyID] = c
	return c
}

// LookupContext 查找已存在的节流上下文。
func (h *Holder) LookupContext(policyID string) (*Context, bool) {
	h.ensure()
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.contexts[policyID]
	return c, ok
}

// Contexts 返回全部节流上下文，按策略标识排序。
func (h *Holder) Contexts() []*Context {
	h.ensure()
	h.mu.RLock()
	out := make([]*Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		out = append(out, c)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Caller 按限定键查找调用方。集群模式下这是权威表，单节点模式下查所属上下文。
func (h *Holder) Caller(key string) *xcaller.CallerContext {
	h.ensure()
	h.mu.RLock()
	cc := h.callers[key]
	h.mu.RUnlock()
	if cc != nil || h.opts.clustering {
		return cc
	}
	if c, ok := h.contextOf(key); ok {
		return c.lookup(key)
	}
	return nil
}

// Reindex 按调用方当前窗口重建其所在上下文的时间索引。
func (h *Holder) Reindex(cc *xcaller.CallerContext) {
	if cc == nil {
		return
	}
	if c, ok := h.contextOf(cc.Key()); ok {
		c.Reindex(cc)
	}
}

func (h *Holder) contextOf(key string) (*Context, bool) {
	policyID, _, ok := strings.Cut(key, ":")
	if !ok {
		return nil, false
	}
	return h.LookupContext(policyID)
}

// PutCaller 把调用方放入权威表，仅集群模式生效。
func (h *Holder) PutCaller(cc *xcaller.CallerContext) {
	h.ensure()
	if !h.opts.clustering || cc == nil {
		return
	}
	h.mu.Lock()
	h.callers[cc.Key()] = cc
	h.mu.Unlock()
}

// RemoveCaller 从权威表删除调用方，仅当表中仍是同一对象时删除。
func (h *Holder) RemoveCaller(cc *xcaller.CallerContext) {
	h.ensure()
	if cc == nil {
		return
	}
	h.mu.Lock()
	if h.callers[cc.Key()] == cc {
		delete(h.callers, cc.Key())
	}
	h.mu.Unlock()
}

// Controller 返回策略的并发控制器。
func (h *Holder) Controller(policyID string) (*xconcurrency.Controller, bool) {
	h.ensure()
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.controllers[policyID]
	return c, ok
}

// StoreController 登记并发控制器，ctrl 为 nil 时删除。
func (h *Holder) StoreController(policyID string, ctrl *xconcurrency.Controller) {
	h.ensure()
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctrl == nil {
		delete(h.controllers, policyID)
		return
	}
	h.controllers[policyID] = ctrl
}

// Controllers 返回全部并发控制器的快照。
func (h *Holder) Controllers() map[string]*xconcurrency.Controller {
	h.ensure()
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*xconcurrency.Controller, len(h.controllers))
	for k, v := range h.controllers {
		out[k] = v
	}
	return out
}

// Close 释放自建的键锁。
func (h *Holder) Close() error {
	h.ensure()
	if h.ownsLocker {
		return h.opts.locker.Close()
	}
	return nil
}
