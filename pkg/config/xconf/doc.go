// Package xconf 加载节点配置，并在配置文件变更时通知调用方。
//
// 配置以 "." 分隔的扁平键组织（如 throttle.lock.timeout），来源可以是
// YAML/JSON 文件、字节数据，或者由嵌入方直接给出的 map：
//
//	cfg, err := xconf.New("/etc/xthrottle/node.yaml")
//	cfg, err := xconf.NewFromProperties(map[string]any{
//		"throttle.clustering":    true,
//		"throttle.lock.timeout":  "500ms",
//	})
//
// 反序列化使用 koanf 的默认解码器，字符串形式的时长（"50ms"）可直接解码为 time.Duration。
//
// Watch 监视文件所在目录（编辑器原子替换文件时直接监视文件会丢事件），
// 防抖后调用 Reload，再把结果交给回调；回调中应执行"先校验再替换"。
package xconf
