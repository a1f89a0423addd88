package xreplica

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DirtySet 并发安全的待复制键集合。
type DirtySet struct {
	m sync.Map
	n atomic.Int64
}

// NewDirtySet 创建空集合。
func NewDirtySet() *DirtySet {
	return &DirtySet{}
}

// Mark 放入 key，返回 key 此前是否不在集合中。
func (s *DirtySet) Mark(key string) bool {
	if _, loaded := s.m.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	s.n.Add(1)
	return true
}

// Drain 取走当前全部键并按字典序返回。
//
// 与 Mark 并发时，新放入的键要么出现在本次结果中，要么留在集合里。
func (s *DirtySet) Drain() []string {
	var keys []string
	s.m.Range(func(k, _ any) bool {
		if _, ok := s.m.LoadAndDelete(k); ok {
			s.n.Add(-1)
			keys = append(keys, k.(string))
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len 返回集合大小的近似值。
func (s *DirtySet) Len() int {
	return int(s.n.Load())
}

// Pending 计数与窗口两个待复制集合，实现 xthrottle.Flusher。
type Pending struct {
	Counters *DirtySet
	Windows  *DirtySet
}

// NewPending 创建两个空集合。
func NewPending() *Pending {
	return &Pending{Counters: NewDirtySet(), Windows: NewDirtySet()}
}

func (p *Pending) MarkCounterDirty(key string) { p.Counters.Mark(key) }
func (p *Pending) MarkWindowDirty(key string)  { p.Windows.Mark(key) }
