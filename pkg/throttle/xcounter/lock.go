package xcounter

import (
	"context"
	"errors"

	"github.com/avast/retry-go/v5"
)

// errLockBusy 表示锁被其他持有者占用，仅在重试循环内部使用。
var errLockBusy = errors.New("xcounter: lock busy")

// acquireLoop 以固定间隔重试 try，直到成功或 lockTimeout 到期。
//
// 超时返回 (false, nil)；调用方 ctx 取消返回其错误；try 返回的错误立即终止循环。
func acquireLoop(ctx context.Context, o *options, try func(ctx context.Context) (bool, error)) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	defer cancel()

	err := retry.New(
		retry.Context(lockCtx),
		retry.Attempts(0),
		retry.Delay(o.retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		ok, err := try(lockCtx)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	})
	if err == nil {
		return true, nil
	}
	if pErr := ctx.Err(); pErr != nil {
		return false, pErr
	}
	if errors.Is(err, errLockBusy) || lockCtx.Err() != nil {
		return false, nil
	}
	return false, err
}
