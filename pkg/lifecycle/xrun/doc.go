// Package xrun 管理节点后台服务的生命周期。
//
// 节点运行时有若干长期 goroutine：两个复制器、两个清理调度器、集群订阅者、
// 配置监视器。它们统一放进一个 Group，任一服务出错或收到退出信号时整体取消：
//
//	err := xrun.Run(ctx,
//		xrun.Ticker(50*time.Millisecond, false, counterTick),
//		watcher.Run,
//	)
//	if errors.Is(err, xrun.ErrSignal) {
//		// 正常退出
//	}
//
// Ticker 的 fn 返回错误会终止整个 Group，周期任务若只想记录失败应自行吞掉错误。
package xrun
