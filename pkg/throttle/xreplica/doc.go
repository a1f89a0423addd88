// Package xreplica 周期性地把调用方状态复制到计数存储。
//
// 请求路径只负责把调用方键放入待复制集合（DirtySet），Runner 按固定频率
// 取走集合内容并交给复制函数，每个键在调用方键锁内处理。
//
// 两种复制器：
//   - CounterReplicator：把本地增量加到分布式计数，并用结果刷新全局计数；
//   - WindowReplicator：在共享锁保护下对齐各节点的窗口起点。
//
// 复制失败只记录日志并把键重新放回集合，等待下一轮。
package xreplica
