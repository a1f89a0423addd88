package xcounter

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable 分布式后端不可达或返回了协调错误。
	ErrUnavailable = errors.New("xcounter: backend unavailable")

	// ErrClosed 存储已关闭。
	ErrClosed = errors.New("xcounter: store closed")

	// ErrEmptyKey 键为空。
	ErrEmptyKey = errors.New("xcounter: empty key")

	// ErrNilClient 后端客户端为 nil。
	ErrNilClient = errors.New("xcounter: nil client")

	// ErrNilStore 组合存储缺少依赖。
	ErrNilStore = errors.New("xcounter: nil store")

	// ErrNilFunc alter 函数为 nil。
	ErrNilFunc = errors.New("xcounter: nil alter function")

	// ErrInvalidValue 后端存储的值无法解析为整数。
	ErrInvalidValue = errors.New("xcounter: invalid stored value")

	// ErrInvalidOption 选项取值非法。
	ErrInvalidOption = errors.New("xcounter: invalid option")

	// ErrConflict 乐观事务重试耗尽。
	ErrConflict = errors.New("xcounter: transaction conflict")
)

// IsCoordinationError 判断 err 是否属于协调失败（网络、后端不可达）。
//
// 协调失败应降级到本地状态处理；其余错误（参数错误、值损坏）不降级。
func IsCoordinationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict) {
		return true
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// unavailable 把后端错误包装为 ErrUnavailable，保留原始错误链。
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return errors.Join(ErrUnavailable, opError(op, err))
}

func opError(op string, err error) error {
	return &OpError{Op: op, Err: err}
}

// OpError 携带失败的存储操作名。
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "xcounter: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
