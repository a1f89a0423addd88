// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xclock: 毫秒时钟，测试使用手动时钟
//   - xkeylock: 基于 key 的进程内互斥锁，支持 context 超时和非阻塞获取
package util
