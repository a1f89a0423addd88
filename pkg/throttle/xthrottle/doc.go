// Package xthrottle 管理节流上下文与节点级数据持有者。
//
// Context 对应一个节流策略实例，持有该策略下的全部调用方，并维护两套索引：
// 按窗口结束时间排序的 B 树（清理扫描用）与调用方键到窗口的映射（按键查找用），
// 两者在同一把互斥锁下同时修改。
//
// Holder 是每个节点一份的显式依赖对象：集群模式下的权威调用方表、
// 按策略索引的 Context 与并发控制器、共享的调用方键锁。
// 首次使用时以 sync.Once 初始化，只在节点关闭时释放。
package xthrottle
