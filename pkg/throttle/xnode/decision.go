package xnode

import "sync/atomic"

// Decision 一次准入判定的结果。
type Decision struct {
	Allowed  bool
	PolicyID string
	CallerID string
	// Reason 拒绝原因，放行时为空。
	Reason DenyReason
	// RetryAt 被拒绝的调用方可以再次访问的时间（Unix 毫秒），0 表示未知。
	RetryAt int64
	// HoldsSlot 本次放行占用了并发槽位，请求结束后由 Node.Release 归还。
	HoldsSlot bool

	released atomic.Bool
}

// Err 拒绝时返回 *DeniedError，放行时返回 nil。
func (d *Decision) Err() error {
	if d == nil || d.Allowed {
		return nil
	}
	return &DeniedError{
		PolicyID: d.PolicyID,
		CallerID: d.CallerID,
		Reason:   d.Reason,
		RetryAt:  d.RetryAt,
	}
}
