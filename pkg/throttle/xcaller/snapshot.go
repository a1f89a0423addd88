package xcaller

// Snapshot 调用方状态的不可变副本，用于复制与广播。
type Snapshot struct {
	ID              string `json:"id"`
	Key             string `json:"key"`
	RoleID          string `json:"role_id,omitempty"`
	Kind            Kind   `json:"kind"`
	FirstAccessTime int64  `json:"first_access_time"`
	NextTimeWindow  int64  `json:"next_time_window"`
	NextAccessTime  int64  `json:"next_access_time,omitempty"`
	GlobalCounter   int64  `json:"global_counter"`
	LocalCounter    int64  `json:"local_counter"`
}

// Snapshot 返回当前状态，不修改任何字段。
func (c *CallerContext) Snapshot() Snapshot {
	return c.snapshot(c.localCounter.Load())
}

// SnapshotAndReset 把本地计数原子清零，并返回清零前的快照。
//
// 复制器在网络往返之前调用它，期间到达的新请求计入下一轮。
func (c *CallerContext) SnapshotAndReset() Snapshot {
	return c.snapshot(c.localCounter.Swap(0))
}

func (c *CallerContext) snapshot(local int64) Snapshot {
	return Snapshot{
		ID:              c.id,
		Key:             c.key,
		RoleID:          c.roleID,
		Kind:            c.kind,
		FirstAccessTime: c.firstAccessTime.Load(),
		NextTimeWindow:  c.nextTimeWindow.Load(),
		NextAccessTime:  c.nextAccessTime.Load(),
		GlobalCounter:   c.globalCounter.Load(),
		LocalCounter:    local,
	}
}

// RestoreLocal 把未能复制的本地计数加回，复制失败时使用。
func (c *CallerContext) RestoreLocal(n int64) {
	if n > 0 {
		c.localCounter.Add(n)
	}
}

// SetGlobalCounter 设置全局计数，复制器在合并分布式计数后调用。
// 调用方须持有键锁。
func (c *CallerContext) SetGlobalCounter(v int64) {
	c.globalCounter.Store(v)
}

// AdoptWindow 采用集群共享窗口：起点 start，长度 unit 毫秒，全局计数 global。
// 调用方须持有键锁。
func (c *CallerContext) AdoptWindow(start, unit, global int64) {
	c.firstAccessTime.Store(start)
	c.nextTimeWindow.Store(start + unit)
	c.globalCounter.Store(global)
}

// AuthorWindow 本节点成为窗口发起者：全局计数清零，本地计数置 1。
// 调用方须持有键锁。
func (c *CallerContext) AuthorWindow() {
	c.globalCounter.Store(0)
	c.localCounter.Store(1)
}

// ApplySnapshot 合并对端广播的状态，返回是否有变化。
//
// 对端窗口更新时整体采用；同一窗口时全局计数取较大值；旧窗口忽略。
// 调用方须持有键锁。
func (c *CallerContext) ApplySnapshot(s Snapshot) bool {
	first := c.firstAccessTime.Load()
	switch {
	case s.FirstAccessTime > first:
		c.firstAccessTime.Store(s.FirstAccessTime)
		c.nextTimeWindow.Store(s.NextTimeWindow)
		c.nextAccessTime.Store(s.NextAccessTime)
		c.globalCounter.Store(s.GlobalCounter)
		return true
	case s.FirstAccessTime == first && s.GlobalCounter > c.globalCounter.Load():
		c.globalCounter.Store(s.GlobalCounter)
		if s.NextAccessTime > c.nextAccessTime.Load() {
			c.nextAccessTime.Store(s.NextAccessTime)
		}
		return true
	default:
		return false
	}
}

// FromSnapshot 以快照重建调用方，本地计数为 0。
func FromSnapshot(s Snapshot) *CallerContext {
	c := &CallerContext{id: s.ID, key: s.Key, roleID: s.RoleID, kind: s.Kind}
	c.firstAccessTime.Store(s.FirstAccessTime)
	c.nextTimeWindow.Store(s.NextTimeWindow)
	c.nextAccessTime.Store(s.NextAccessTime)
	c.globalCounter.Store(s.GlobalCounter)
	return c
}
