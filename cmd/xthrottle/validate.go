package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xthrottle/pkg/config/xconf"
	"github.com/omeyang/xthrottle/pkg/throttle/xpolicy"
)

func createValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "校验配置文件并列出策略",
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if path == "" {
				return newUsageError("--config is required")
			}
			return cmdValidate(cmd.Root().Writer, path)
		},
	}
}

func cmdValidate(w io.Writer, path string) error {
	cfg, err := xconf.New(path)
	if err != nil {
		return &usageError{err: err}
	}
	app, err := loadAppConfig(cfg)
	if err != nil {
		return &usageError{err: err}
	}
	return printPolicies(w, app.Node.Policies)
}

func printPolicies(w io.Writer, policies []xpolicy.Config) error {
	sorted := append([]xpolicy.Config(nil), policies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tKIND\tRULES\tDEFAULT\tMAX_CONCURRENT")
	for _, p := range sorted {
		def := "-"
		if p.Default != nil {
			def = fmt.Sprintf("%d/%s", p.Default.MaxRequests, p.Default.UnitTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", p.ID, p.Kind, len(p.Rules), def, p.MaxConcurrent)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "config ok: %d policies\n", len(sorted))
	return err
}
