package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clos-tools/fabcheck/pkg/cli"
	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/util"
)

func newValidateCmd() *cobra.Command {
	var topoPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a topology file without touching the fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := topology.Load(topoPath)
			if err != nil {
				var verr *util.ValidationError
				if errors.As(err, &verr) {
					fmt.Printf("%s is invalid:\n", topoPath)
					for _, msg := range verr.Errors {
						fmt.Printf("  %s %s\n", cli.Red("✗"), msg)
					}
				}
				return err
			}

			fmt.Printf("%s %s: %d nodes, %d peerings, %d routes, %d probes\n",
				cli.Green("✓"), topoPath,
				len(topo.Nodes), len(topo.Peerings), len(topo.Routes), len(topo.Reachability))
			return nil
		},
	}

	cmd.Flags().StringVarP(&topoPath, "topology", "t", "fabric.yaml", "topology YAML file")

	return cmd
}
