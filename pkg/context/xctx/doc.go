// Package xctx 提供限流链路上下文的存取。
//
// 限流节点在处理一次准入检查时，会把节点、策略和调用方标识写入 context，
// 日志（xlog.EnrichHandler）和观测（xmetrics）从 context 中读取这些字段，
// 无需在每个调用点重复传参。
//
// # 字段
//
// 节点与限流维度：
//   - node_id   : 当前节点标识
//   - policy_id : 命中的限流策略
//   - caller_id : 被限流的调用方（IP、域名或角色）
//
// 追踪信息（W3C）：
//   - trace_id / span_id / trace_flags
//
// # 命名约定
//
//	WithXxx(ctx, value) - 注入，ctx 为 nil 时返回 ErrNilContext
//	Xxx(ctx)            - 读取，缺失时返回空字符串
//	AppendXxxAttrs      - 追加为 slog 属性（热路径零分配）
package xctx
