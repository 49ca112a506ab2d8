package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/lock"
	"github.com/Sumatoshi-tech/lanekeeper/internal/orchestrator"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
	"github.com/Sumatoshi-tech/lanekeeper/internal/staleness"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// StatusCommand holds the flags for the status command.
type StatusCommand struct {
	jsonOut bool
}

// statusReport is the JSON shape of the status command.
type statusReport struct {
	State     *orchestrator.LaneState   `json:"state,omitempty"`
	Lock      *lock.Record              `json:"lock,omitempty"`
	Staleness *staleness.SystemSnapshot `json:"staleness"`
}

// NewStatusCommand creates and configures the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &StatusCommand{}

	cobraCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the lane state and repo staleness at a glance",
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit the status as JSON")

	return cobraCmd
}

// Run executes the status command.
func (c *StatusCommand) Run(cmd *cobra.Command, _ []string) error {
	cfg, lay, _, err := setup()
	if err != nil {
		return err
	}

	reg, regErr := registry.Load(lay.RegistryPath())
	if regErr != nil {
		return regErr
	}

	var state *orchestrator.LaneState

	var loaded orchestrator.LaneState

	readErr := fsutil.ReadJSON(lay.StatePath(), &loaded)
	if readErr == nil {
		state = &loaded
	} else if !errors.Is(readErr, fs.ErrNotExist) {
		return readErr
	}

	var held *lock.Record

	var record lock.Record

	lockErr := fsutil.ReadJSON(lay.LockPath(), &record)
	if lockErr == nil {
		held = &record
	}

	collector := staleness.NewCollector(lay, reg, cfg.ReposRoot, cfg.Staleness.ScanWindow)

	snapshot, snapErr := collector.Snapshot()
	if snapErr != nil {
		return snapErr
	}

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), statusReport{State: state, Lock: held, Staleness: snapshot})
	}

	c.render(cmd, state, held, snapshot)

	return nil
}

func (c *StatusCommand) render(cmd *cobra.Command, state *orchestrator.LaneState, held *lock.Record, snapshot *staleness.SystemSnapshot) {
	out := cmd.OutOrStdout()

	header := color.New(color.FgCyan, color.Bold)

	header.Fprintln(out, "Lane A")

	if state == nil {
		fmt.Fprintln(out, "  no state yet; run `lanekeeper orchestrate`")
	} else {
		fmt.Fprintf(out, "  stage:    %s\n", color.New(color.Bold).Sprint(state.Stage))
		fmt.Fprintf(out, "  action:   %s", state.NextAction.Type)

		if len(state.NextAction.TargetRepos) > 0 {
			fmt.Fprintf(out, " (%s)", strings.Join(state.NextAction.TargetRepos, ", "))
		}

		fmt.Fprintf(out, "\n  evidence: %s", state.EvidenceState.EvidenceLevel)

		if state.EvidenceState.MinimumSufficient {
			fmt.Fprint(out, ", minimum sufficient")
		}

		fmt.Fprintf(out, "\n  updated:  %s\n", relativeStamp(state.UpdatedAt))
	}

	if held == nil {
		fmt.Fprintf(out, "  lock:     free\n")
	} else {
		fmt.Fprintf(out, "  lock:     held by pid %d on %s, expires %s\n",
			held.PID, held.Host, relativeStamp(held.ExpiresAt))
	}

	fmt.Fprintln(out)
	header.Fprintln(out, "Repos")

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Repo", "Staleness", "Last scan", "Reasons"})

	for _, repo := range snapshot.Repos {
		label := color.GreenString("fresh")

		switch {
		case repo.HardStale:
			label = color.RedString("hard-stale")
		case repo.Stale:
			label = color.YellowString("soft-stale")
		}

		t.AppendRow(table.Row{
			repo.RepoID,
			label,
			relativeStamp(repo.LastScanTime),
			strings.Join(repo.Reasons, ", "),
		})
	}

	t.Render()
}

func relativeStamp(iso string) string {
	if iso == "" {
		return "never"
	}

	ts, err := stamp.Parse(iso)
	if err != nil {
		return iso
	}

	return humanize.Time(ts)
}
