package xthrottle

// Flusher 接收待复制标记，由复制调度器实现。
type Flusher interface {
	// MarkCounterDirty 调用方计数有变化。
	MarkCounterDirty(key string)
	// MarkWindowDirty 调用方开启了新窗口。
	MarkWindowDirty(key string)
}

// NoopFlusher 单节点部署时不需要复制。
type NoopFlusher struct{}

func (NoopFlusher) MarkCounterDirty(string) {}
func (NoopFlusher) MarkWindowDirty(string)  {}
