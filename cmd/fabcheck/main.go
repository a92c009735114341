package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clos-tools/fabcheck/pkg/version"
)

var verboseFlag bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "fabcheck",
		Short: "BGP fabric verification for leaf-spine topologies",
		Long: `Fabcheck verifies a running leaf-spine fabric against a declared topology.

The topology file lists nodes, the BGP peerings that must be Established,
the prefixes that must have an exact ECMP next-hop count, and the
endpoints that must answer ICMP probes.

  fabcheck check -t fabric.yaml            # run every declared check
  fabcheck check -t fabric.yaml --junit out.xml
  fabcheck validate -t fabric.yaml         # validate the topology only

Exit codes: 0 all checks passed, 1 at least one check failed,
2 the fabric could not be observed.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newCheckCmd(),
		newValidateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("fabcheck dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("fabcheck %s (%s)\n", version.Version, version.GitCommit)
				}
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
