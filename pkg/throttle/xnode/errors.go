package xnode

import (
	"errors"
	"fmt"
)

var (
	// ErrThrottled 请求被节流拒绝。
	ErrThrottled = errors.New("xnode: throttled")

	// ErrUnknownPolicy 请求引用了未配置的策略。
	ErrUnknownPolicy = errors.New("xnode: unknown policy")

	// ErrInvalidConfig 节点配置非法。
	ErrInvalidConfig = errors.New("xnode: invalid config")

	// ErrClosed 节点已关闭。
	ErrClosed = errors.New("xnode: closed")
)

// DenyReason 拒绝原因。
type DenyReason string

const (
	ReasonRate        DenyReason = "rate"
	ReasonConcurrency DenyReason = "concurrency"
)

// DeniedError 节流拒绝。errors.Is(err, ErrThrottled) 为 true。
type DeniedError struct {
	PolicyID string
	CallerID string
	Reason   DenyReason
	// RetryAt 调用方可以再次访问的时间（Unix 毫秒），0 表示未知。
	RetryAt int64
}

func (e *DeniedError) Error() string {
	if e.RetryAt > 0 {
		return fmt.Sprintf("xnode: throttled by policy %q, caller=%s, reason=%s, retry_at=%d",
			e.PolicyID, e.CallerID, e.Reason, e.RetryAt)
	}
	return fmt.Sprintf("xnode: throttled by policy %q, caller=%s, reason=%s",
		e.PolicyID, e.CallerID, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrThrottled
}

func (e *DeniedError) Unwrap() error {
	return ErrThrottled
}

// IsThrottled 报告 err 是否为节流拒绝。
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
