package xcleanup

import "errors"

var (
	// ErrNilStore 未提供计数存储。
	ErrNilStore = errors.New("xcleanup: nil store")

	// ErrNilContexts 未提供节流上下文来源。
	ErrNilContexts = errors.New("xcleanup: nil context source")

	// ErrInvalidOption 选项取值非法。
	ErrInvalidOption = errors.New("xcleanup: invalid option")
)
