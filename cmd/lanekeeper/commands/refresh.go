package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/refresh"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

// RefreshCommand holds the flags for the refresh command.
type RefreshCommand struct {
	maxEvents       int
	continueOnError bool
	dryRun          bool
	jsonOut         bool
}

// NewRefreshCommand creates and configures the refresh command.
func NewRefreshCommand() *cobra.Command {
	cmd := &RefreshCommand{}

	cobraCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Consume new knowledge-change events",
		Long: `Consume events strictly past the last_refresh checkpoint: re-index and
re-scan the impacted repos, invalidate their committees, and rewrite the
compacted events summary. By default the checkpoint holds when a repo fails,
so the failed batch is replayed on the next run.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().IntVar(&cmd.maxEvents, "max-events", 0, "Cap consumed events per run (0 = unlimited)")
	cobraCmd.Flags().BoolVar(&cmd.continueOnError, "continue-on-error", false, "Advance the checkpoint even when a repo fails")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Report what would be refreshed without writing")
	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit the run result as JSON")

	return cobraCmd
}

// Run executes the refresh command.
func (c *RefreshCommand) Run(cmd *cobra.Command, _ []string) error {
	cfg, lay, logger, err := setup()
	if err != nil {
		return err
	}

	reg, regErr := registry.Load(lay.RegistryPath())
	if regErr != nil {
		return regErr
	}

	result, runErr := refresh.Run(cmd.Context(), refresh.Options{
		Layout:      lay,
		Registry:    reg,
		ReposRoot:   cfg.ReposRoot,
		Scanner:     knowledge.NewRecorder(),
		MaxEvents:   c.maxEvents,
		StopOnError: !c.continueOnError,
		DryRun:      c.dryRun,
	})
	if runErr != nil {
		return runErr
	}

	logger.Info("refresh finished",
		"events", result.EventsConsumed, "repos", result.ImpactedRepos, "ok", result.OK)

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "consumed %d event(s)\n", result.EventsConsumed)

	if len(result.ImpactedRepos) > 0 {
		fmt.Fprintf(out, "refreshed: %s\n", strings.Join(result.ImpactedRepos, ", "))
	}

	if len(result.Duplicates) > 0 {
		fmt.Fprintf(out, "duplicates skipped: %d\n", len(result.Duplicates))
	}

	if !result.OK {
		return fmt.Errorf("refresh errors: %s", strings.Join(result.Errors, "; "))
	}

	return nil
}
