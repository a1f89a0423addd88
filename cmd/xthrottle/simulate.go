package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/lifecycle/xrun"
	"github.com/omeyang/xthrottle/pkg/observability/xlog"
	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
	"github.com/omeyang/xthrottle/pkg/throttle/xcluster"
	"github.com/omeyang/xthrottle/pkg/throttle/xcounter"
	"github.com/omeyang/xthrottle/pkg/throttle/xnode"
	"github.com/omeyang/xthrottle/pkg/throttle/xpolicy"
)

const demoPolicyID = "demo"

// simOptions 一次模拟的参数。
type simOptions struct {
	Nodes    int
	Requests int
	Callers  []string
	PolicyID string
	Interval time.Duration
}

// nodeStats 单个节点的判定统计。
type nodeStats struct {
	Node    string
	Allowed int
	Denied  int
}

// simReport 模拟结果，按节点顺序排列。
type simReport struct {
	Stats []nodeStats
}

// Totals 返回全部节点的放行数与拒绝数。
func (r simReport) Totals() (allowed, denied int) {
	for _, s := range r.Stats {
		allowed += s.Allowed
		denied += s.Denied
	}
	return allowed, denied
}

func createSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "单进程内模拟多个节点共享计数",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "nodes", Aliases: []string{"n"}, Usage: "节点数", Value: 3},
			&cli.IntFlag{Name: "requests", Aliases: []string{"r"}, Usage: "请求总数，轮流发往各节点", Value: 100},
			&cli.StringSliceFlag{Name: "caller", Usage: "调用方 IP，可重复", Value: []string{"10.0.0.1"}},
			&cli.StringFlag{Name: "policy", Usage: "策略标识，未指定配置文件时使用内置策略", Value: demoPolicyID},
			&cli.DurationFlag{Name: "interval", Usage: "两次请求的间隔", Value: 5 * time.Millisecond},
			&cli.IntFlag{Name: "max-requests", Usage: "内置策略每窗口请求上限", Value: 20},
			&cli.DurationFlag{Name: "unit", Usage: "内置策略窗口长度", Value: time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, closeLog, err := buildLogger(defaultLogConfig(), cmd.String("log-level"))
			if err != nil {
				return &usageError{err: err}
			}
			defer func() { _ = closeLog() }()

			cfg, err := simulationConfig(cmd.String("config"), int64(cmd.Int("max-requests")), cmd.Duration("unit"))
			if err != nil {
				return &usageError{err: err}
			}
			report, err := simulate(ctx, cfg, simOptions{
				Nodes:    cmd.Int("nodes"),
				Requests: cmd.Int("requests"),
				Callers:  cmd.StringSlice("caller"),
				PolicyID: cmd.String("policy"),
				Interval: cmd.Duration("interval"),
			}, logger)
			if err != nil {
				return err
			}
			return printReport(cmd.Root().Writer, report)
		},
	}
}

// simulationConfig 读取配置文件中的节点配置，未指定时使用内置的 IP 策略。
// 模拟总是以集群模式运行在进程内存储上。
func simulationConfig(path string, maxRequests int64, unit time.Duration) (xnode.Config, error) {
	cfg := xnode.DefaultConfig()
	if path != "" {
		xc, err := xconf.New(path)
		if err != nil {
			return xnode.Config{}, err
		}
		if cfg, err = xnode.LoadConfig(xc, xnode.ConfigPath); err != nil {
			return xnode.Config{}, err
		}
	} else {
		cfg.Policies = []xpolicy.Config{{
			ID:      demoPolicyID,
			Kind:    xcaller.KindIP,
			Default: &xcaller.Policy{MaxRequests: maxRequests, UnitTime: unit},
		}}
	}
	cfg.Clustering = true
	cfg.Replication.BroadcastCallerState = true
	cfg.Store.Backend = xnode.BackendLocal
	cfg.Transport.Backend = xnode.TransportNone
	return cfg, cfg.Validate()
}

// simulate 创建共享进程内存储与消息中心的多个节点，轮流发送请求。
func simulate(ctx context.Context, cfg xnode.Config, opts simOptions, logger xlog.Logger) (simReport, error) {
	if opts.Nodes <= 0 || opts.Requests < 0 || len(opts.Callers) == 0 {
		return simReport{}, newUsageError("nodes must be positive and at least one caller is required")
	}
	store, err := xcounter.NewLocal()
	if err != nil {
		return simReport{}, err
	}
	defer func() { _ = store.Close() }()
	hub := xcluster.NewHub(logger)

	nodes := make([]*xnode.Node, 0, opts.Nodes)
	defer func() {
		for _, n := range nodes {
			_ = n.Close()
		}
	}()
	for i := range opts.Nodes {
		c := cfg
		c.NodeID = fmt.Sprintf("node-%d", i+1)
		n, err := xnode.New(c, xnode.WithStore(store), xnode.WithTransport(hub), xnode.WithLogger(logger))
		if err != nil {
			return simReport{}, err
		}
		nodes = append(nodes, n)
	}

	g, gctx := xrun.NewGroup(ctx, xrun.WithName("simulation"), xrun.WithLogger(logger))
	for _, n := range nodes {
		g.GoWithName(n.ID(), n.Run)
	}

	report := simReport{Stats: make([]nodeStats, len(nodes))}
	for i, n := range nodes {
		report.Stats[i].Node = n.ID()
	}
	runErr := drive(gctx, nodes, opts, report.Stats)
	g.Cancel(nil)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		runErr = errors.Join(runErr, err)
	}
	return report, runErr
}

func drive(ctx context.Context, nodes []*xnode.Node, opts simOptions, stats []nodeStats) error {
	for i := range opts.Requests {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(opts.Interval):
			}
		}
		idx := i % len(nodes)
		n := nodes[idx]
		d, err := n.CheckAndAdmit(ctx, opts.Callers[i%len(opts.Callers)], "", opts.PolicyID)
		if err != nil {
			return err
		}
		n.Release(ctx, d)
		if d.Allowed {
			stats[idx].Allowed++
		} else {
			stats[idx].Denied++
		}
	}
	return nil
}

func printReport(w io.Writer, r simReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tALLOWED\tDENIED")
	for _, s := range r.Stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Node, s.Allowed, s.Denied)
	}
	allowed, denied := r.Totals()
	fmt.Fprintf(tw, "total\t%d\t%d\n", allowed, denied)
	return tw.Flush()
}
