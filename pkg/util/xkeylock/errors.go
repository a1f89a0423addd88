package xkeylock

import "errors"

var (
	// ErrLockNotHeld Unlock 重复调用。
	ErrLockNotHeld = errors.New("xkeylock: lock not held")
	// ErrLockOccupied TryAcquire 时锁被占用。
	ErrLockOccupied = errors.New("xkeylock: lock occupied")
	ErrClosed       = errors.New("xkeylock: closed")
	ErrInvalidKey   = errors.New("xkeylock: empty key")
	ErrNilContext   = errors.New("xkeylock: nil context")

	ErrMaxKeysExceeded   = errors.New("xkeylock: max keys exceeded")
	ErrInvalidShardCount = errors.New("xkeylock: invalid shard count")
)
