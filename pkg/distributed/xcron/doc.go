// Package xcron 在 robfig/cron 之上提供带分布式锁的定时任务。
//
// 本地清理和分布式清理都以 "@every <duration>" 注册为任务。
// 为任务指定名称并配置 Locker 后，每次触发先 TryLock(name)，拿不到锁的节点跳过本轮，
// 集群中同一时刻只有一个节点执行该任务。
//
//	s := xcron.New(xcron.WithLogger(logger), xcron.WithObserver(observer))
//	_, err := s.AddFunc(xcron.Every(time.Hour), cleanup,
//		xcron.WithName("throttle.distributed_cleanup"),
//		xcron.WithJobLocker(storeLocker),
//		xcron.WithTimeout(10*time.Minute),
//	)
//	err = s.Run(ctx) // 阻塞直到 ctx 取消，适合放进 xrun.Group
//
// robfig/cron 的 @every 最小粒度为 1 秒，更短的周期会被提升到 1 秒。
package xcron
