package xrun

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSignal 收到退出信号，通过 errors.Is 判断。
	ErrSignal = errors.New("xrun: received signal")

	ErrInvalidInterval = errors.New("xrun: interval must be positive")
	ErrNilFunc         = errors.New("xrun: nil function")
	ErrNilService      = errors.New("xrun: nil service")
)

// SignalError 携带触发退出的信号。
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("xrun: received signal %v", e.Signal)
}

// Is 支持 errors.Is(err, ErrSignal)。
func (e *SignalError) Is(target error) bool {
	return target == ErrSignal
}

// Unwrap 返回 ErrSignal。
func (e *SignalError) Unwrap() error {
	return ErrSignal
}
