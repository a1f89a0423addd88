// xthrottle 运行分布式节流节点，或在单进程内模拟多节点集群。
//
// 用法:
//
//	xthrottle [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML 或 JSON）
//	    --log-level  覆盖配置中的日志级别
//
// 命令:
//
//	run         按配置运行节点，配置文件变更时热加载策略
//	simulate    单进程内模拟多个节点，输出各节点的放行统计
//	validate    校验配置文件并列出策略
//
// 退出码:
//
//	0: 成功（run 命令收到退出信号也视为成功）
//	1: 运行失败
//	2: 参数或配置错误
//
// 示例:
//
//	xthrottle -c throttle.yaml run
//	xthrottle -c throttle.yaml validate
//	xthrottle simulate --nodes 3 --requests 200 --caller 10.0.0.1
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xthrottle/pkg/observability/xlog"
)

// 版本信息，可通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args))
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xthrottle",
		Usage:   "分布式节流节点",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (" + strings.Join(xlog.LevelNames(), "/") + ")，覆盖配置文件",
				Validator: func(s string) error {
					_, err := xlog.ParseLevel(s)
					return err
				},
			},
		},
		Commands: []*cli.Command{
			createRunCommand(),
			createSimulateCommand(),
			createValidateCommand(),
		},
		// 退出码由 run 统一映射，不让 urfave/cli 直接退出进程。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

// usageError 参数或配置错误，退出码 2。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func run(ctx context.Context, args []string) int {
	app := createApp()
	if err := app.Run(ctx, args); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", ue)
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
