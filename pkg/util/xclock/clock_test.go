package xclock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystem_NowMillis(t *testing.T) {
	before := time.Now().UnixMilli()
	got := Default().NowMillis()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestManual_AdvanceAndSet(t *testing.T) {
	clk := NewManual(100)
	assert.Equal(t, int64(100), clk.NowMillis())

	require.NoError(t, clk.Advance(900*time.Millisecond))
	assert.Equal(t, int64(1000), clk.NowMillis())

	clk.Set(5)
	assert.Equal(t, int64(5), clk.NowMillis())

	assert.ErrorIs(t, clk.Advance(-time.Millisecond), ErrNegativeDelta)
	assert.Equal(t, int64(5), clk.NowMillis())
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	clk := NewManual(0)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = clk.Advance(time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), clk.NowMillis())
}

func TestMillis(t *testing.T) {
	assert.Equal(t, int64(1500), Millis(1500*time.Millisecond))
	assert.Equal(t, int64(0), Millis(999*time.Microsecond))
}
