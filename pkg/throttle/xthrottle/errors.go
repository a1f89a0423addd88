package xthrottle

import "errors"

var (
	// ErrAlreadyInitialized Holder 已经初始化过。
	ErrAlreadyInitialized = errors.New("xthrottle: holder already initialized")

	// ErrInvalidOption 选项取值非法。
	ErrInvalidOption = errors.New("xthrottle: invalid option")
)
