package xrun

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGroup_ErrorCancelsOthers(t *testing.T) {
	g, _ := NewGroup(context.Background(), WithName("test"))
	boom := errors.New("boom")

	g.GoWithName("waiter", WaitForDone())
	g.Go(func(context.Context) error { return boom })

	assert.ErrorIs(t, g.Wait(), boom)
}

func TestGroup_CancelCause(t *testing.T) {
	g, _ := NewGroup(context.Background())
	reason := errors.New("shutdown requested")
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Cancel(reason)
	assert.ErrorIs(t, g.Wait(), reason)
}

func TestGroup_PlainCancelIsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, _ := NewGroup(ctx)
	g.Go(WaitForDone())
	cancel()
	assert.NoError(t, g.Wait())
}

func TestGroup_NilFunc(t *testing.T) {
	g, _ := NewGroup(context.Background())
	g.Go(nil)
	assert.ErrorIs(t, g.Wait(), ErrNilFunc)
}

func TestRun_Signal(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	ctx := context.WithValue(context.Background(), testSignalsKey{}, (<-chan os.Signal)(sigs))
	sigs <- syscall.SIGTERM

	err := Run(ctx, WaitForDone())
	require.ErrorIs(t, err, ErrSignal)
	var se *SignalError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, syscall.SIGTERM, se.Signal)
}

func TestRunServices_NilService(t *testing.T) {
	err := RunServices(context.Background(), []Option{WithoutSignalHandler()}, nil)
	assert.ErrorIs(t, err, ErrNilService)
}

func TestTicker(t *testing.T) {
	var n atomic.Int32
	stop := errors.New("enough")
	err := Ticker(time.Millisecond, true, func(context.Context) error {
		if n.Add(1) == 3 {
			return stop
		}
		return nil
	})(context.Background())
	assert.ErrorIs(t, err, stop)
	assert.EqualValues(t, 3, n.Load())

	assert.ErrorIs(t, Ticker(0, false, nil)(context.Background()), ErrInvalidInterval)
	assert.ErrorIs(t, Ticker(time.Second, false, nil)(context.Background()), ErrNilFunc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Ticker(time.Second, true, func(context.Context) error { return nil })(ctx), context.Canceled)
}
