package xcaller

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy 策略参数非法（负上限、非正窗口、负禁止时长）。
	ErrInvalidPolicy = errors.New("xcaller: invalid policy")

	// ErrStateCorrupted 调用方索引不一致。
	ErrStateCorrupted = errors.New("xcaller: caller state corrupted")

	// ErrNilRegistry CanAccess 缺少注册表。
	ErrNilRegistry = errors.New("xcaller: nil registry")

	// ErrUnknownKind 未知的调用方类别。
	ErrUnknownKind = errors.New("xcaller: unknown caller kind")
)

// CorruptionError 索引损坏，携带调用方标识便于诊断。
type CorruptionError struct {
	CallerID string
	Reason   string
}

// Error 实现 error 接口。
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("xcaller: caller %q state corrupted: %s", e.CallerID, e.Reason)
}

// Unwrap 返回 ErrStateCorrupted，支持 errors.Is。
func (e *CorruptionError) Unwrap() error {
	return ErrStateCorrupted
}

// NewCorruptionError 创建索引损坏错误。
func NewCorruptionError(callerID, reason string) *CorruptionError {
	return &CorruptionError{CallerID: callerID, Reason: reason}
}
