package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
	"github.com/Sumatoshi-tech/lanekeeper/internal/staleness"
)

// StalenessCommand holds the flags for the staleness command.
type StalenessCommand struct {
	escalate bool
	banner   bool
	dryRun   bool
	jsonOut  bool
}

// NewStalenessCommand creates and configures the staleness command.
func NewStalenessCommand() *cobra.Command {
	cmd := &StalenessCommand{}

	cobraCmd := &cobra.Command{
		Use:   "staleness",
		Short: "Report repo knowledge staleness",
		Long: `Classify every active repo against its knowledge evidence and report the
staleness snapshot. With --escalate, soft-stale repos past the configured age
are escalated into an update meeting notice or a decision packet, subject to
the daily cap.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.escalate, "escalate", false, "Run the soft-stale escalation policy")
	cobraCmd.Flags().BoolVar(&cmd.banner, "banner", false, "Print the markdown staleness banner per stale repo")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Report escalations without writing")
	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit the snapshot as JSON")

	return cobraCmd
}

// Run executes the staleness command.
func (c *StalenessCommand) Run(cmd *cobra.Command, _ []string) error {
	cfg, lay, logger, err := setup()
	if err != nil {
		return err
	}

	reg, regErr := registry.Load(lay.RegistryPath())
	if regErr != nil {
		return regErr
	}

	collector := staleness.NewCollector(lay, reg, cfg.ReposRoot, cfg.Staleness.ScanWindow)

	snapshot, snapErr := collector.Snapshot()
	if snapErr != nil {
		return snapErr
	}

	if c.escalate {
		escalator := staleness.NewEscalator(lay, cfg.SoftStale, &knowledge.FSMeetings{Dir: lay.MeetingsDir()})
		escalator.DryRun = c.dryRun

		created, escErr := escalator.Run(snapshot)
		if escErr != nil {
			return escErr
		}

		logger.Info("escalation finished", "created", created)
	}

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), snapshot)
	}

	c.render(cmd, snapshot)

	return nil
}

func (c *StalenessCommand) render(cmd *cobra.Command, snapshot *staleness.SystemSnapshot) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "observed at %s: %s\n", snapshot.ObservedAt, snapshot.String())

	for _, repo := range snapshot.Repos {
		label := color.GreenString("fresh")

		switch {
		case repo.HardStale:
			label = color.RedString("hard-stale")
		case repo.Stale:
			label = color.YellowString("soft-stale")
		}

		fmt.Fprintf(out, "  %-24s %s", repo.RepoID, label)

		if len(repo.Reasons) > 0 {
			fmt.Fprintf(out, "  (%s)", strings.Join(repo.Reasons, ", "))
		}

		fmt.Fprintln(out)

		if c.banner && repo.Stale {
			fmt.Fprintln(out)
			fmt.Fprint(out, staleness.Banner(repo))
			fmt.Fprintln(out)
		}
	}
}
