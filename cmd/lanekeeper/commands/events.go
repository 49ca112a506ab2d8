package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/followup"
	"github.com/Sumatoshi-tech/lanekeeper/internal/refresh"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// ErrNoCheckpoints means compaction cannot pick a safe cutoff on its own.
var ErrNoCheckpoints = errors.New("no consumer checkpoints; pass --keep-from")

// NewEventsCommand creates the events command group.
func NewEventsCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "events",
		Short: "Work with the knowledge-change event log",
	}

	cobraCmd.AddCommand(newEventsAppendCommand())
	cobraCmd.AddCommand(newEventsCompactCommand())

	return cobraCmd
}

// EventsAppendCommand holds the flags for events append.
type EventsAppendCommand struct {
	eventType  string
	repoID     string
	workID     string
	commit     string
	summary    string
	changed    []string
	affected   []string
	riskLevel  string
	mustAddE2E bool
	timestamp  string
}

func newEventsAppendCommand() *cobra.Command {
	cmd := &EventsAppendCommand{}

	cobraCmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to the log",
		Long: `Append one knowledge-change event to the hour-sharded segment for its
timestamp. The scope is repo:<id> when --repo is set, system otherwise.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.eventType, "type", eventlog.TypeMerge, "Event type (merge, scan, index, ...)")
	cobraCmd.Flags().StringVar(&cmd.repoID, "repo", "", "Repo id the event is scoped to")
	cobraCmd.Flags().StringVar(&cmd.workID, "work-id", "", "Work item the event came from")
	cobraCmd.Flags().StringVar(&cmd.commit, "commit", "", "Commit sha the event refers to")
	cobraCmd.Flags().StringVar(&cmd.summary, "summary", "", "One-line event summary")
	cobraCmd.Flags().StringSliceVar(&cmd.changed, "changed", nil, "Changed paths (comma-separated)")
	cobraCmd.Flags().StringSliceVar(&cmd.affected, "affected", nil, "Affected paths (comma-separated)")
	cobraCmd.Flags().StringVar(&cmd.riskLevel, "risk", "", "Risk level (low, medium, high)")
	cobraCmd.Flags().BoolVar(&cmd.mustAddE2E, "must-add-e2e", false, "Record the must_add_e2e obligation")
	cobraCmd.Flags().StringVar(&cmd.timestamp, "timestamp", "", "Event timestamp (ISO millis, default now)")

	return cobraCmd
}

// Run executes events append.
func (c *EventsAppendCommand) Run(cmd *cobra.Command, _ []string) error {
	_, lay, logger, err := setup()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	ts := c.timestamp
	if ts == "" {
		ts = stamp.ISO(now)
	}

	suffix, randErr := randHex(4)
	if randErr != nil {
		return randErr
	}

	ev := &eventlog.Event{
		EventID:       "evt-" + stamp.FSSafe(now) + "-" + suffix,
		Timestamp:     ts,
		Type:          c.eventType,
		Scope:         c.scope(),
		RepoID:        c.repoID,
		WorkID:        c.workID,
		Commit:        c.commit,
		Summary:       c.summary,
		ChangedPaths:  c.changed,
		AffectedPaths: c.affected,
		RiskLevel:     c.riskLevel,
	}

	if c.mustAddE2E {
		ev.Obligations = map[string]any{"must_add_e2e": true}
	}

	segment, appendErr := eventlog.Append(lay.SegmentsDir(), ev)
	if appendErr != nil {
		return appendErr
	}

	logger.Info("event appended", "event_id", ev.EventID, "segment", segment)

	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", ev.EventID, segment)

	return nil
}

func (c *EventsAppendCommand) scope() string {
	if c.repoID != "" {
		return "repo:" + c.repoID
	}

	return "system"
}

// EventsCompactCommand holds the flags for events compact.
type EventsCompactCommand struct {
	keepFrom string
}

func newEventsCompactCommand() *cobra.Command {
	cmd := &EventsCompactCommand{}

	cobraCmd := &cobra.Command{
		Use:   "compact",
		Short: "Archive consumed segments as lz4",
		Long: `Archive every segment strictly before the cutoff into the archive
directory and remove the originals. Without --keep-from the cutoff is the
earliest consumer checkpoint segment, so no consumer loses its resume anchor.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.keepFrom, "keep-from", "", "First segment file name to keep (default: earliest checkpoint)")

	return cobraCmd
}

// Run executes events compact.
func (c *EventsCompactCommand) Run(cmd *cobra.Command, _ []string) error {
	_, lay, logger, err := setup()
	if err != nil {
		return err
	}

	keepFrom := c.keepFrom

	if keepFrom == "" {
		cutoff, cutoffErr := earliestCheckpointSegment(checkpoint.NewStore(lay.CheckpointsDir()))
		if cutoffErr != nil {
			return cutoffErr
		}

		keepFrom = cutoff
	}

	archived, compactErr := eventlog.Compact(lay.SegmentsDir(), lay.SegmentArchiveDir(), keepFrom)
	if compactErr != nil {
		return compactErr
	}

	logger.Info("segments archived", "count", len(archived), "keep_from", keepFrom)

	if len(archived) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to archive")

		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", strings.Join(archived, ", "))

	return nil
}

// earliestCheckpointSegment returns the oldest segment any consumer is still
// anchored to. Every consumer must have checkpointed at least once, otherwise
// compaction could archive lines a consumer has not seen.
func earliestCheckpointSegment(store *checkpoint.Store) (string, error) {
	refreshCP, err := store.ReadEventID(refresh.Consumer)
	if err != nil {
		return "", err
	}

	followupCP, offsetErr := store.ReadOffset(followup.Consumer)
	if offsetErr != nil {
		return "", offsetErr
	}

	if refreshCP.LastProcessedSegment == nil || followupCP.LastReadSegment == nil {
		return "", ErrNoCheckpoints
	}

	cutoff := *refreshCP.LastProcessedSegment
	if *followupCP.LastReadSegment < cutoff {
		cutoff = *followupCP.LastReadSegment
	}

	return cutoff, nil
}
