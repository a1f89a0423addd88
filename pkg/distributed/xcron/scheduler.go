package xcron

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler 定时任务调度器。
type Scheduler interface {
	AddFunc(spec string, fn func(ctx context.Context) error, opts ...JobOption) (JobID, error)
	AddJob(spec string, job Job, opts ...JobOption) (JobID, error)
	Remove(id JobID)
	Start()
	// Stop 停止调度并等待正在执行的任务结束。
	Stop()
	// Run 启动调度，阻塞到 ctx 取消后停止。
	Run(ctx context.Context) error
	Entries() []cron.Entry
	Stats() *Stats
}

var _ Scheduler = (*scheduler)(nil)

type scheduler struct {
	cron  *cron.Cron
	opts  *schedulerOptions
	stats *Stats

	// 任务执行使用的基础 context，Stop 时取消。
	baseCtx    context.Context
	baseCancel context.CancelFunc
	immediate  sync.WaitGroup
}

// New 创建调度器。
func New(opts ...SchedulerOption) Scheduler {
	o := defaultSchedulerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		cron:       cron.New(cron.WithLocation(o.location)),
		opts:       o,
		stats:      &Stats{},
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

func (s *scheduler) AddFunc(spec string, fn func(ctx context.Context) error, opts ...JobOption) (JobID, error) {
	if fn == nil {
		return 0, ErrNilJob
	}
	return s.AddJob(spec, JobFunc(fn), opts...)
}

func (s *scheduler) AddJob(spec string, job Job, opts ...JobOption) (JobID, error) {
	if job == nil {
		return 0, ErrNilJob
	}
	jo := defaultJobOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(jo)
		}
	}
	locker := jo.locker
	if locker == nil {
		locker = s.opts.locker
	}
	w := &jobWrapper{
		job:      job,
		opts:     jo,
		locker:   locker,
		logger:   s.opts.logger,
		observer: s.opts.observer,
		stats:    s.stats,
		baseCtx:  s.baseCtx,
	}
	id, err := s.cron.AddJob(spec, w)
	if err != nil {
		return 0, fmt.Errorf("xcron: add job %q: %w", jo.name, err)
	}
	if jo.immediate {
		s.immediate.Add(1)
		go func() {
			defer s.immediate.Done()
			w.Run()
		}()
	}
	return id, nil
}

func (s *scheduler) Remove(id JobID) { s.cron.Remove(id) }

func (s *scheduler) Start() { s.cron.Start() }

func (s *scheduler) Stop() {
	s.baseCancel()
	<-s.cron.Stop().Done()
	s.immediate.Wait()
}

func (s *scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *scheduler) Entries() []cron.Entry { return s.cron.Entries() }

func (s *scheduler) Stats() *Stats { return s.stats }
