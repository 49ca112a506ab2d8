package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/followup"
)

// FollowupsCommand holds the flags for the followups command.
type FollowupsCommand struct {
	maxEvents int
	dryRun    bool
	jsonOut   bool
}

// NewFollowupsCommand creates and configures the followups command.
func NewFollowupsCommand() *cobra.Command {
	cmd := &FollowupsCommand{}

	cobraCmd := &cobra.Command{
		Use:   "followups",
		Short: "Generate QA follow-up intakes from merge events",
		Long: `Consume merge events past the qa-merge-followups checkpoint and emit a
Lane B intake stub for every merge that violated its must_add_e2e obligation.
Each event is handled at most once; markers make reruns idempotent.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().IntVar(&cmd.maxEvents, "max-events", 0, "Cap processed lines per run (0 = unlimited)")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Report what would be created without writing")
	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit the run result as JSON")

	return cobraCmd
}

// Run executes the followups command.
func (c *FollowupsCommand) Run(cmd *cobra.Command, _ []string) error {
	_, lay, logger, err := setup()
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(lay.CheckpointsDir())
	store.DryRun = c.dryRun

	result, runErr := followup.Run(followup.Options{
		SegmentsDir: lay.SegmentsDir(),
		Checkpoints: store,
		InboxDir:    lay.LaneBInboxDir(),
		MarkersDir:  lay.QAFollowupsDir(),
		DryRun:      c.dryRun,
		MaxEvents:   c.maxEvents,
	})
	if runErr != nil {
		return runErr
	}

	logger.Info("follow-ups finished",
		"merges", result.MergeEventsSeen, "created", len(result.Created), "skipped", len(result.Skipped))

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "processed %d line(s), %d merge event(s)\n",
		result.ProcessedLines, result.MergeEventsSeen)

	for _, intake := range result.Created {
		fmt.Fprintf(out, "created %s\n", intake)
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(out, "warnings:\n  %s\n", strings.Join(result.Warnings, "\n  "))
	}

	return nil
}
