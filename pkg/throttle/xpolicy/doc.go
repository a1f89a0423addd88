// Package xpolicy 把节流策略配置编译为可查询的规则集。
//
// 每个策略有一个类别（ip / domain / role）、可选的并发上限以及有序规则：
//
//   - ip: CIDR、地址区间（a-b）或单个地址，基于 netipx.IPSet
//   - domain: 精确主机名，或 *.suffix 通配（不匹配 suffix 本身）
//   - role: 精确角色标识
//
// Resolve 按声明顺序返回第一条命中规则的调用方配置，都不命中时返回默认规则；
// 没有默认规则时返回 nil，调用方据此放行。
package xpolicy
