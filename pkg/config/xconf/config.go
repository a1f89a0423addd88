package xconf

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Format 配置来源格式。
type Format string

// 支持的格式。
const (
	FormatYAML       Format = "yaml"
	FormatJSON       Format = "json"
	FormatProperties Format = "properties"
)

// Config 配置实例，并发安全。
type Config interface {
	// Client 返回当前的 koanf 实例，Reload 后返回新实例。
	Client() *koanf.Koanf

	// Unmarshal 将 path 下的配置解码到 target，path 为空表示整个配置。
	Unmarshal(path string, target any) error

	// String/Bool/Duration 读取单个键，缺失时返回 def。
	String(key, def string) string
	Bool(key string, def bool) bool
	Duration(key string, def time.Duration) time.Duration

	// Reload 重新读取文件，只对 New 创建的实例有效。
	Reload() error

	Path() string
	Format() Format
}

type options struct {
	delim string
	tag   string
}

// Option 配置加载选项。
type Option func(*options)

func defaultOptions() *options {
	return &options{delim: ".", tag: "koanf"}
}

// WithDelim 设置键分隔符，默认 "."。
func WithDelim(delim string) Option {
	return func(o *options) {
		if delim != "" {
			o.delim = delim
		}
	}
}

// WithTag 设置结构体标签，默认 "koanf"。
func WithTag(tag string) Option {
	return func(o *options) {
		if tag != "" {
			o.tag = tag
		}
	}
}
