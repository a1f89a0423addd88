package xcron

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats 执行统计，按任务名聚合。
type Stats struct {
	total   atomic.Int64
	failure atomic.Int64
	skip    atomic.Int64
	jobs    sync.Map // name -> *JobStats
}

// JobStats 单任务统计。
type JobStats struct {
	Executions atomic.Int64
	Failures   atomic.Int64
	Skips      atomic.Int64
	lastNanos  atomic.Int64
}

// TotalExecutions 总执行次数（不含跳过）。
func (s *Stats) TotalExecutions() int64 { return s.total.Load() }

// FailureCount 失败次数。
func (s *Stats) FailureCount() int64 { return s.failure.Load() }

// SkipCount 因未拿到锁而跳过的次数。
func (s *Stats) SkipCount() int64 { return s.skip.Load() }

// Job 返回任务统计，不存在时返回 nil。
func (s *Stats) Job(name string) *JobStats {
	v, ok := s.jobs.Load(name)
	if !ok {
		return nil
	}
	return v.(*JobStats)
}

// LastDuration 最近一次耗时。
func (js *JobStats) LastDuration() time.Duration {
	return time.Duration(js.lastNanos.Load())
}

func (s *Stats) job(name string) *JobStats {
	v, _ := s.jobs.LoadOrStore(name, &JobStats{})
	return v.(*JobStats)
}

func (s *Stats) recordExecution(name string, d time.Duration, err error) {
	s.total.Add(1)
	js := s.job(name)
	js.Executions.Add(1)
	js.lastNanos.Store(int64(d))
	if err != nil {
		s.failure.Add(1)
		js.Failures.Add(1)
	}
}

func (s *Stats) recordSkip(name string) {
	s.skip.Add(1)
	s.job(name).Skips.Add(1)
}
