// Package xcluster 在节点之间广播节流状态。
//
// Transport 只负责按频道投递字节，投递失败记录日志，不重试。
// Publisher 把状态包装成带节点标识与序号的 Envelope 发出；
// Receiver 订阅频道，丢弃本节点发出的消息与同一 (节点, 键) 上的过期序号，
// 再按消息类别分发。
//
// 内置两种 Transport：基于 go-redis 的 Redis Pub/Sub，以及进程内的 Hub。
package xcluster
