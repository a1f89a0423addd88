// Package xkeylock 提供按 key 互斥的进程内锁。
//
// 限流节点以调用方键（<policy>:<caller>）为粒度串行化"窗口重置"和"复制"这两类
// 多字段修改，不同调用方之间互不阻塞，也不存在全局锁。
//
// key 按 xxhash 分片到若干 map，条目在无人持有也无人等待时立即回收，
// 内存只与并发活跃的 key 数相关。
//
//	err := locker.Do(ctx, key, func() error {
//		return replicate(key)
//	})
package xkeylock
