// Command graphsync runs the graph sync engine and its control surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "graphsync",
		Short: "Keep a live, focused view of a remote property graph",
		Long: `graphsync polls a property graph store, commits changed snapshots
through a rate-limited gate, and decides which entities are in focus.

Configuration comes from the environment; --config points at a YAML file
whose engine section overrides the engine tunables and is watched for
changes while serving.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				return os.Setenv("CONFIG_FILE", configFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML file with an engine section (overrides CONFIG_FILE)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newMigrateTimestampsCmd())
	root.AddCommand(newTimelineCmd())
	return root
}
