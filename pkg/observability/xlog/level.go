package xlog

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Level 日志级别，数值与 slog.Level 相同。
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// levelNames 配置与命令行接受的级别名。warning 是 warn 的别名。
var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// LevelNames 返回可用的级别名（不含别名），按级别升序。
func LevelNames() []string {
	names := make([]string, 0, len(levelNames))
	for name := range levelNames {
		if name != "warning" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return levelNames[names[i]] < levelNames[names[j]]
	})
	return names
}

func (l Level) String() string { return slog.Level(l).String() }

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(data []byte) error {
	parsed, err := ParseLevel(string(data))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel 解析级别名，大小写不敏感，空串为 info。
//
// 也接受 slog 的偏移写法，如 "debug-4"、"INFO+2"。
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return LevelInfo, nil
	}
	if lv, ok := levelNames[name]; ok {
		return lv, nil
	}
	var sl slog.Level
	if err := sl.UnmarshalText([]byte(name)); err != nil {
		return LevelInfo, fmt.Errorf("xlog: unknown level %q, want one of %s",
			s, strings.Join(LevelNames(), "/"))
	}
	return Level(sl), nil
}
