package xlog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/omeyang/xthrottle/pkg/context/xctx"
)

// ErrNilHandler base handler 为 nil。
var ErrNilHandler = errors.New("xlog: base handler is nil")

// maxEnrichAttrs 限流字段 3 个 + 追踪字段 3 个。
const maxEnrichAttrs = 6

// EnrichHandler 从 context 读取 xctx 字段并追加到每条记录。
//
// 缺失的字段直接跳过。调用 WithGroup 后注入字段会落在分组内，这是 slog handler 的固有行为。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 包装 base handler。
func NewEnrichHandler(base slog.Handler) (*EnrichHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &EnrichHandler{base: base}, nil
}

// Enabled 委托给 base。
func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 追加字段后交给 base。按 slog 契约，修改前先 Clone。
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [maxEnrichAttrs]slog.Attr
	attrs := xctx.AppendThrottleAttrs(buf[:0], ctx)
	attrs = xctx.AppendTraceAttrs(attrs, ctx)
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 实现 slog.Handler。
func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 实现 slog.Handler。
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}
