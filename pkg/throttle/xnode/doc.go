// Package xnode 把节流核心组装成一个可运行的节点。
//
// Node 是请求路径与后台任务的入口：
//   - CheckAndAdmit / ReleaseConcurrencySlot：请求准入与并发槽位归还；
//   - Reload：校验后整体替换策略，已有调用方状态保留；
//   - Run：在 xrun.Group 中运行计数复制、窗口复制、清理调度与集群订阅；
//   - Close：释放节点持有的资源。
//
// 配置来自 xconf（koanf），LoadConfig 在默认值之上解码 "throttle" 路径。
package xnode
