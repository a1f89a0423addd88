// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xcron: 定时任务，可选分布式锁保证同一时刻只有一个节点执行
package distributed
