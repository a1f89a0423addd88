package xlog

import (
	"log/slog"
	"time"

	"github.com/omeyang/xthrottle/pkg/context/xctx"
)

// 标准字段名。
const (
	KeyError     = "error"
	KeyStack     = "stack"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyKey       = "key"
	KeyBackend   = "backend"

	KeyNodeID   = xctx.KeyNodeID
	KeyPolicyID = xctx.KeyPolicyID
	KeyCallerID = xctx.KeyCallerID
)

// Err 错误属性，err 为 nil 时返回空属性（slog 会忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 耗时属性。
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 组件名属性。
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 操作名属性。
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Count 计数属性。
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Key 调用方键属性（<policy>:<caller>）。
func Key(key string) slog.Attr {
	return slog.String(KeyKey, key)
}

// CallerID 调用方属性。
func CallerID(id string) slog.Attr {
	return slog.String(KeyCallerID, id)
}

// PolicyID 策略属性。
func PolicyID(id string) slog.Attr {
	return slog.String(KeyPolicyID, id)
}

// Backend 存储或传输后端属性。
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}
