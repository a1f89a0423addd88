package xclock

import (
	"errors"
	"sync"
	"time"
)

// ErrNegativeDelta 表示 Advance 的时长为负数。
var ErrNegativeDelta = errors.New("xclock: delta must not be negative")

// Clock 时钟接口。
type Clock interface {
	// NowMillis 返回当前 Unix 毫秒时间戳。
	NowMillis() int64
}

// System 系统时钟。
type System struct{}

// NowMillis 返回系统当前时间。
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Default 返回系统时钟。
func Default() Clock {
	return System{}
}

// Manual 可手动控制的时钟，用于确定性测试。并发安全。
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual 创建起始于 startMillis 的手动时钟。
func NewManual(startMillis int64) *Manual {
	return &Manual{now: startMillis}
}

// NowMillis 返回当前设定的时间。
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 将时钟向前推进 d（按毫秒截断）。
func (m *Manual) Advance(d time.Duration) error {
	if d < 0 {
		return ErrNegativeDelta
	}
	m.mu.Lock()
	m.now += d.Milliseconds()
	m.mu.Unlock()
	return nil
}

// Set 将时钟设置为绝对时间，允许回拨。
func (m *Manual) Set(millis int64) {
	m.mu.Lock()
	m.now = millis
	m.mu.Unlock()
}

// Millis 将时长转换为毫秒，便于与时间戳字段做算术。
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

var (
	_ Clock = System{}
	_ Clock = (*Manual)(nil)
)
