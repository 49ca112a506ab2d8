// Package main provides the entry point for the lanekeeper CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/cmd/lanekeeper/commands"
	"github.com/Sumatoshi-tech/lanekeeper/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanekeeper",
		Short: "Lanekeeper - dual-lane change management orchestrator",
		Long: `Lanekeeper coordinates the knowledge lane of an AI change-management
workspace: it keeps the knowledge-change event log, decides and executes the
next Lane A action under a cross-process lock, and escalates stale knowledge.

Commands:
  orchestrate  Run one Lane A orchestrator tick`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&commands.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&commands.Quiet, "quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONLogs, "json-logs", false, "emit logs as JSON")

	// Add commands.
	rootCmd.AddCommand(commands.NewOrchestrateCommand())
	rootCmd.AddCommand(commands.NewIndexCommand())
	rootCmd.AddCommand(commands.NewRefreshCommand())
	rootCmd.AddCommand(commands.NewFollowupsCommand())
	rootCmd.AddCommand(commands.NewStalenessCommand())
	rootCmd.AddCommand(commands.NewEventsCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "lanekeeper %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
