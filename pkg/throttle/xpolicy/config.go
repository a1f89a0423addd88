package xpolicy

import (
	"fmt"
	"strings"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
)

// Rule 一条调用方规则。
type Rule struct {
	// Match 匹配表达式，含义取决于策略类别。
	Match string `json:"match" yaml:"match" koanf:"match"`

	xcaller.Policy `yaml:",inline" koanf:",squash"`
}

// Config 一个节流策略。
type Config struct {
	ID   string       `json:"id" yaml:"id" koanf:"id"`
	Kind xcaller.Kind `json:"kind" yaml:"kind" koanf:"kind"`
	// MaxConcurrent 并发上限，0 表示不限制并发。
	MaxConcurrent int64  `json:"max_concurrent" yaml:"max_concurrent" koanf:"max_concurrent"`
	Rules         []Rule `json:"rules" yaml:"rules" koanf:"rules"`
	// Default 所有规则都不命中时使用，可为空。
	Default *xcaller.Policy `json:"default,omitempty" yaml:"default,omitempty" koanf:"default"`
}

// Validate 校验配置，不编译规则表达式。
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty policy id", ErrInvalidConfig)
	}
	// 调用方限定键以第一个冒号分隔策略标识。
	if strings.Contains(c.ID, ":") {
		return fmt.Errorf("%w: policy id %q must not contain ':'", ErrInvalidConfig, c.ID)
	}
	if c.Kind < xcaller.KindIP || c.Kind > xcaller.KindRole {
		return fmt.Errorf("%w: policy %q: unknown kind %d", ErrInvalidConfig, c.ID, c.Kind)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: policy %q: max_concurrent must be >= 0", ErrInvalidConfig, c.ID)
	}
	for i := range c.Rules {
		if c.Rules[i].Match == "" {
			return fmt.Errorf("%w: policy %q: rule[%d] has empty match", ErrInvalidConfig, c.ID, i)
		}
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("%w: policy %q: rule[%d]: %w", ErrInvalidConfig, c.ID, i, err)
		}
	}
	if c.Default != nil {
		if err := c.Default.Validate(); err != nil {
			return fmt.Errorf("%w: policy %q: default: %w", ErrInvalidConfig, c.ID, err)
		}
	}
	return nil
}
