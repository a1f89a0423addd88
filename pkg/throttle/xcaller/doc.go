// Package xcaller 定义单个调用方的节流状态与准入判定。
//
// CallerContext 记录调用方当前窗口（起始、结束）、禁止截止时间以及
// 全局/本地两个计数器。所有时间均为 Unix 毫秒，0 表示未设置，
// 因此时间轴上的 0 不是合法的访问时刻。
//
// 判定逻辑 CanAccess 每次调用都根据三个时间字段推断当前状态
// （新调用方、窗口内累计、被禁止），热路径只使用原子操作；
// 窗口初始化与重置这类多字段写入在调用方键锁内完成，与复制器串行。
//
// 窗口刚结束且计数未达上限时的"额外放行"是有意保留的行为：
// 不计数直接放行并注销当前窗口，下一次访问会创建新的调用方。
package xcaller
