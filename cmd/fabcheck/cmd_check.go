package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clos-tools/fabcheck/pkg/check"
	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/util"
)

func newCheckCmd() *cobra.Command {
	var (
		topoPath string
		parallel int
		timeout  time.Duration
		junit    string
		markdown string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run all declared checks against the fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag {
				util.SetLogLevel("debug")
			} else {
				util.SetLogLevel("warn")
			}

			topo, err := topology.Load(topoPath)
			if err != nil {
				return err
			}
			if timeout > 0 {
				topo.Defaults.CommandTimeout = topology.Duration(timeout)
			}

			checker := check.New(topo, check.WithParallel(parallel))

			report := checker.Run(cmd.Context())
			checker.Close()
			report.PrintConsole(os.Stdout)

			if markdown != "" {
				if err := report.WriteMarkdown(markdown); err != nil {
					util.Errorf("writing markdown report: %v", err)
				}
			}
			if junit != "" {
				if err := report.WriteJUnit(junit); err != nil {
					util.Errorf("writing junit report: %v", err)
				}
			}

			os.Exit(report.ExitCode())
			return nil
		},
	}

	cmd.Flags().StringVarP(&topoPath, "topology", "t", "fabric.yaml", "topology YAML file")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "nodes checked concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-command timeout (overrides topology defaults)")
	cmd.Flags().StringVar(&junit, "junit", "", "JUnit XML output path")
	cmd.Flags().StringVar(&markdown, "markdown", "", "markdown report output path")

	return cmd
}
