// Package xconcurrency 提供并发节流控制器。
//
// Controller 是一个有上限的可用槽位计数：请求准入时减一，完成时加一。
// 与速率节流不同，每次状态变化都会同步调用 Replicator，不做批量合并，
// 用更高的复制开销换取更紧的集群并发上限。
package xconcurrency
