// Package xmetrics 提供统一的观测跨度：一次 Start/End 同时产生 OTel trace span
// 和 operation 计数、耗时指标。
//
// 复制器的每个 tick、清理任务的每次运行都包在一个跨度里：
//
//	ctx, span := xmetrics.Start(ctx, observer, xmetrics.SpanOptions{
//		Component: "xreplica",
//		Operation: "counter.tick",
//	})
//	defer func() { span.End(xmetrics.Result{Err: err}) }()
//
// observer 为 nil 时退化为空跨度，调用方无需判空。
package xmetrics
