package xcaller

import (
	"fmt"
	"time"
)

// Policy 调用方配置。
type Policy struct {
	// MaxRequests 每个窗口允许的请求数，0 表示不限。
	MaxRequests int64 `json:"max_requests" yaml:"max_requests" koanf:"max_requests"`
	// UnitTime 窗口长度，必须大于 0，精度为毫秒。
	UnitTime time.Duration `json:"unit_time" yaml:"unit_time" koanf:"unit_time"`
	// ProhibitTime 超限后的禁止时长，0 表示禁止到窗口结束。
	ProhibitTime time.Duration `json:"prohibit_time" yaml:"prohibit_time" koanf:"prohibit_time"`
}

// Validate 校验策略参数。
func (p *Policy) Validate() error {
	switch {
	case p.MaxRequests < 0:
		return fmt.Errorf("%w: max_requests must be >= 0, got %d", ErrInvalidPolicy, p.MaxRequests)
	case p.UnitTime.Milliseconds() <= 0:
		return fmt.Errorf("%w: unit_time must be at least 1ms, got %v", ErrInvalidPolicy, p.UnitTime)
	case p.ProhibitTime < 0:
		return fmt.Errorf("%w: prohibit_time must be >= 0, got %v", ErrInvalidPolicy, p.ProhibitTime)
	}
	return nil
}

// Unlimited 报告策略是否不限制请求数。
func (p *Policy) Unlimited() bool {
	return p.MaxRequests == 0
}

func (p *Policy) unitMillis() int64 {
	return p.UnitTime.Milliseconds()
}

func (p *Policy) prohibitMillis() int64 {
	return p.ProhibitTime.Milliseconds()
}
