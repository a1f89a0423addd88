package xpolicy

import "errors"

var (
	// ErrInvalidConfig 策略配置非法。
	ErrInvalidConfig = errors.New("xpolicy: invalid config")

	// ErrDuplicatePolicy 策略标识重复。
	ErrDuplicatePolicy = errors.New("xpolicy: duplicate policy id")
)
