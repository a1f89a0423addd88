// Package xlog 提供基于 log/slog 的结构化日志。
//
// 限流节点的所有组件通过 Logger 接口记录日志，方法强制携带 context，
// EnrichHandler 自动从 context 中提取 xctx 注入的节点、策略、调用方和追踪字段。
//
// # 构建
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xthrottle.log", xlog.WithMaxSizeMB(100)).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// # 动态级别
//
// Build 返回 LoggerWithLevel，SetLevel 运行时生效，With/WithGroup 派生的
// logger 共享同一个 LevelVar。
//
// # 全局 Logger
//
// Default/SetDefault 仅用于 CLI 和测试这类简单场景，
// 服务端组件通过 WithLogger 选项显式注入。
package xlog
