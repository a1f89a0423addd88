package xlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值。
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 7
	DefaultMaxAgeDays = 30

	maxSizeMB = 10 * 1024
)

// 轮转配置错误。
var (
	ErrEmptyFilename   = errors.New("xlog: rotation filename is empty")
	ErrInvalidRotation = errors.New("xlog: invalid rotation option")
	ErrNoCleanupPolicy = errors.New("xlog: max backups and max age cannot both be 0")
)

type rotationConfig struct {
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
}

// RotationOption 配置文件轮转。
type RotationOption func(*rotationConfig)

// WithMaxSizeMB 单文件上限（MB）。
func WithMaxSizeMB(mb int) RotationOption {
	return func(c *rotationConfig) { c.maxSizeMB = mb }
}

// WithMaxBackups 保留的历史文件个数，0 表示不按个数清理。
func WithMaxBackups(n int) RotationOption {
	return func(c *rotationConfig) { c.maxBackups = n }
}

// WithMaxAgeDays 历史文件保留天数，0 表示不按时间清理。
func WithMaxAgeDays(days int) RotationOption {
	return func(c *rotationConfig) { c.maxAgeDays = days }
}

// WithCompress 是否 gzip 压缩历史文件。
func WithCompress(compress bool) RotationOption {
	return func(c *rotationConfig) { c.compress = compress }
}

// newRotator 创建 lumberjack 写入器，父目录不存在时以 0750 创建。
func newRotator(filename string, opts ...RotationOption) (*lumberjack.Logger, error) {
	if filename == "" {
		return nil, ErrEmptyFilename
	}
	cfg := rotationConfig{
		maxSizeMB:  DefaultMaxSizeMB,
		maxBackups: DefaultMaxBackups,
		maxAgeDays: DefaultMaxAgeDays,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.maxSizeMB <= 0 || cfg.maxSizeMB > maxSizeMB {
		return nil, fmt.Errorf("%w: max size %dMB, want 1~%d", ErrInvalidRotation, cfg.maxSizeMB, maxSizeMB)
	}
	if cfg.maxBackups < 0 || cfg.maxAgeDays < 0 {
		return nil, fmt.Errorf("%w: negative backups or age", ErrInvalidRotation)
	}
	if cfg.maxBackups == 0 && cfg.maxAgeDays == 0 {
		return nil, ErrNoCleanupPolicy
	}

	path := filepath.Clean(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("xlog: create log dir: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.maxSizeMB,
		MaxBackups: cfg.maxBackups,
		MaxAge:     cfg.maxAgeDays,
		Compress:   cfg.compress,
		LocalTime:  true,
	}, nil
}
