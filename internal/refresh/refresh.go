// Package refresh is the knowledge-refresh-from-events consumer: it applies
// newly appended knowledge-change events by re-indexing and re-scanning the
// impacted repos, invalidating their committees, and keeping the compacted
// events summary current.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/indexer"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

// Consumer is the checkpoint name for this consumer.
const Consumer = "last_refresh"

// StaleReason is recorded on every committee invalidated by this consumer.
const StaleReason = "refresh_from_events"

// ErrAnchorEventNotFound means the checkpointed event vanished from its
// segment, which signals log corruption.
var ErrAnchorEventNotFound = errors.New("checkpoint event not found in segment")

// ErrRepoPathMissing means a registered repo's worktree is gone.
var ErrRepoPathMissing = errors.New("repo path does not exist")

// Options configures one refresh run.
type Options struct {
	Layout      *layout.Layout
	Registry    *registry.Registry
	ReposRoot   string
	Scanner     knowledge.Scanner
	MaxEvents   int
	StopOnError bool
	DryRun      bool
}

// Result reports one refresh run. Repo-level failures land in Errors; OK is
// false when any occurred.
type Result struct {
	OK                 bool     `json:"ok"`
	EventsConsumed     int      `json:"events_consumed"`
	ImpactedRepos      []string `json:"impacted_repos"`
	Duplicates         []string `json:"duplicates"`
	Errors             []string `json:"errors"`
	SummaryUpdated     bool     `json:"summary_updated"`
	CheckpointAdvanced bool     `json:"checkpoint_advanced"`
	ReportJSON         string   `json:"-"`
	ReportMarkdown     string   `json:"-"`
}

// Run consumes events strictly past the last_refresh checkpoint and applies
// them. Invalid event lines are fatal for this consumer.
func Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{OK: true, ImpactedRepos: []string{}, Duplicates: []string{}, Errors: []string{}}

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())

	cp, err := store.ReadEventID(Consumer)
	if err != nil {
		return nil, err
	}

	anchorSegment, anchorLine, anchorErr := resolveAnchor(opts.Layout.SegmentsDir(), cp)
	if anchorErr != nil {
		return nil, anchorErr
	}

	events, duplicates, readErr := readNewEvents(opts, anchorSegment, anchorLine, cp)
	if readErr != nil {
		return nil, readErr
	}

	result.EventsConsumed = len(events)
	result.Duplicates = duplicates
	result.ImpactedRepos = impactedRepos(events)

	applyErr := applyToRepos(ctx, opts, result)
	if applyErr != nil {
		return nil, applyErr
	}

	if len(result.ImpactedRepos) > 0 && !opts.DryRun {
		staleErr := knowledge.MarkStale(opts.Layout.IntegrationStalePath(), StaleReason, time.Now())
		if staleErr != nil {
			result.OK = false
			result.Errors = append(result.Errors, staleErr.Error())
		}
	}

	if !opts.DryRun {
		updated, summaryErr := UpdateSummary(opts.Layout)
		if summaryErr != nil {
			result.OK = false
			result.Errors = append(result.Errors, summaryErr.Error())
		} else {
			result.SummaryUpdated = updated
		}
	}

	advance := len(events) > 0 && !opts.DryRun && (result.OK || !opts.StopOnError)
	if advance {
		last := events[len(events)-1]

		cpErr := store.WriteEventID(Consumer, &last.segment, &last.event.EventID)
		if cpErr != nil {
			return nil, cpErr
		}

		result.CheckpointAdvanced = true
	}

	if !opts.DryRun {
		reportErr := writeReport(opts.Layout, result)
		if reportErr != nil {
			return nil, reportErr
		}
	}

	return result, nil
}

// PendingEvents counts events strictly past the last_refresh checkpoint.
// Unparseable lines still count; the refresh run will surface them.
func PendingEvents(lay *layout.Layout) (int, error) {
	store := checkpoint.NewStore(lay.CheckpointsDir())

	cp, err := store.ReadEventID(Consumer)
	if err != nil {
		return 0, err
	}

	anchorSegment, anchorLine, anchorErr := resolveAnchor(lay.SegmentsDir(), cp)
	if anchorErr != nil {
		return 0, anchorErr
	}

	count := 0

	walkErr := eventlog.ForEachAfter(lay.SegmentsDir(), anchorSegment, anchorLine, func(eventlog.Position, []byte) error {
		count++

		return nil
	})
	if walkErr != nil {
		return 0, walkErr
	}

	return count, nil
}

// resolveAnchor locates the checkpointed event inside its segment and returns
// the position to resume strictly after. A missing segment or missing event
// is fatal.
func resolveAnchor(segmentsDir string, cp *checkpoint.EventID) (string, int, error) {
	if cp.LastProcessedSegment == nil {
		return "", -1, nil
	}

	segment := *cp.LastProcessedSegment
	eventID := *cp.LastProcessedEventID
	line := -1

	err := eventlog.ForEachAfter(segmentsDir, segment, -1, func(pos eventlog.Position, raw []byte) error {
		if pos.Segment != segment {
			return eventlog.ErrStop
		}

		ev, parseErr := eventlog.ParseLine(raw)
		if parseErr != nil {
			return parseErr
		}

		if ev.EventID == eventID {
			line = pos.Line

			return eventlog.ErrStop
		}

		return nil
	})
	if err != nil {
		return "", 0, err
	}

	if line < 0 {
		return "", 0, fmt.Errorf("%w: %s in %s", ErrAnchorEventNotFound, eventID, segment)
	}

	return segment, line, nil
}

type consumedEvent struct {
	segment string
	event   *eventlog.Event
}

// readNewEvents reads validated events strictly after the anchor, dropping
// duplicate event ids with a warning.
func readNewEvents(opts Options, anchorSegment string, anchorLine int, cp *checkpoint.EventID) ([]consumedEvent, []string, error) {
	seen := map[string]bool{}
	if cp.LastProcessedEventID != nil {
		seen[*cp.LastProcessedEventID] = true
	}

	var events []consumedEvent

	var duplicates []string

	err := eventlog.ForEachAfter(opts.Layout.SegmentsDir(), anchorSegment, anchorLine, func(pos eventlog.Position, raw []byte) error {
		if opts.MaxEvents > 0 && len(events) >= opts.MaxEvents {
			return eventlog.ErrStop
		}

		ev, parseErr := eventlog.ParseLine(raw)
		if parseErr != nil {
			return fmt.Errorf("%s:%d: %w", pos.Segment, pos.Line, parseErr)
		}

		if seen[ev.EventID] {
			duplicates = append(duplicates, ev.EventID)

			return nil
		}

		seen[ev.EventID] = true
		events = append(events, consumedEvent{segment: pos.Segment, event: ev})

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if duplicates == nil {
		duplicates = []string{}
	}

	return events, duplicates, nil
}

// impactedRepos returns the sorted set of repo ids named by the events.
func impactedRepos(events []consumedEvent) []string {
	set := map[string]bool{}

	for _, ce := range events {
		if ce.event.RepoID != "" {
			set[ce.event.RepoID] = true
		}
	}

	repos := make([]string, 0, len(set))

	for id := range set {
		repos = append(repos, id)
	}

	sort.Strings(repos)

	return repos
}

// applyToRepos re-indexes, re-scans, and invalidates the committee of every
// impacted repo. With StopOnError the first failure aborts the loop; the
// error still lands in the result, not in the returned error.
func applyToRepos(ctx context.Context, opts Options, result *Result) error {
	known := activeRepoIDs(opts.Registry)

	for _, repoID := range result.ImpactedRepos {
		repoErr := applyToRepo(ctx, opts, repoID, known)
		if repoErr != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", repoID, repoErr))

			if opts.StopOnError {
				return nil
			}
		}
	}

	return nil
}

func applyToRepo(ctx context.Context, opts Options, repoID string, known []string) error {
	repo, err := opts.Registry.Lookup(repoID)
	if err != nil {
		return err
	}

	worktree := repo.WorktreePath(opts.ReposRoot)

	_, statErr := os.Stat(worktree)
	if statErr != nil {
		return fmt.Errorf("%w: %s", ErrRepoPathMissing, worktree)
	}

	if opts.DryRun {
		return nil
	}

	_, indexErr := indexer.Index(ctx, indexer.Options{
		RepoID:       repoID,
		RepoPath:     worktree,
		OutputDir:    opts.Layout.EvidenceDir(repoID),
		ErrorDir:     opts.Layout.LogsDir(),
		ActiveBranch: repo.ActiveBranch,
		KnownRepoIDs: known,
	})
	if indexErr != nil {
		return indexErr
	}

	_, scanErr := opts.Scanner.Run(ctx, knowledge.ScanRequest{
		RepoID:   repoID,
		RepoPath: worktree,
		ScanPath: opts.Layout.KnowledgeScanPath(repoID),
	})
	if scanErr != nil {
		return scanErr
	}

	return knowledge.MarkStale(opts.Layout.CommitteeStalePath(repoID), StaleReason, time.Now())
}

func activeRepoIDs(reg *registry.Registry) []string {
	active := reg.Active()
	ids := make([]string, 0, len(active))

	for _, repo := range active {
		ids = append(ids, repo.RepoID)
	}

	return ids
}
