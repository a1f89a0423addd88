package xreplica

import "errors"

var (
	// ErrNilStore 未提供计数存储。
	ErrNilStore = errors.New("xreplica: nil store")

	// ErrNilCallers 未提供调用方来源。
	ErrNilCallers = errors.New("xreplica: nil caller source")

	// ErrNilLocker 未提供调用方键锁。
	ErrNilLocker = errors.New("xreplica: nil key locker")

	// ErrNilSet 未提供待复制集合。
	ErrNilSet = errors.New("xreplica: nil dirty set")

	// ErrNilFunc 未提供复制函数。
	ErrNilFunc = errors.New("xreplica: nil replicate func")

	// ErrInvalidOption 选项取值非法。
	ErrInvalidOption = errors.New("xreplica: invalid option")
)
