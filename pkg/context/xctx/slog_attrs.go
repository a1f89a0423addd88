package xctx

import (
	"context"
	"log/slog"
)

// AppendThrottleAttrs 将节点、策略、调用方字段追加到 attrs，只追加非空字段。
func AppendThrottleAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if v := NodeID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyNodeID, v))
	}
	if v := PolicyID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyPolicyID, v))
	}
	if v := CallerID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyCallerID, v))
	}
	return attrs
}

// AppendTraceAttrs 将追踪字段追加到 attrs，只追加非空字段。
func AppendTraceAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if v := TraceID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyTraceID, v))
	}
	if v := SpanID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeySpanID, v))
	}
	if v := TraceFlags(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyTraceFlags, v))
	}
	return attrs
}

// ThrottleAttrs 返回限流维度属性，全空时返回 nil。
func ThrottleAttrs(ctx context.Context) []slog.Attr {
	attrs := AppendThrottleAttrs(make([]slog.Attr, 0, throttleFieldCount), ctx)
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
