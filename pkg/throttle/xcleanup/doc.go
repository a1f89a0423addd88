// Package xcleanup 提供两类周期清理任务。
//
// LocalCleaner 扫描本节点所有节流上下文，驱逐窗口已结束的调用方。
// DistributedCleaner 对计数存储做标记清除：删除过期时间戳，再删除与之配对
// 或没有时间戳的孤儿计数器，每轮删除数量有上限。它与在线计数更新并发执行，
// 删除后立即被重建的计数器视为新的调用方。
//
// 两者都实现 xcron.Job，分布式清理通过 StoreLocker 保证同一时刻只有一个节点执行。
package xcleanup
