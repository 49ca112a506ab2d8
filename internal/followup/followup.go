// Package followup is the QA-merge follow-up consumer: it watches merge
// events whose QA obligations promised an end-to-end test, and when the merge
// touched no e2e test it drops an intake stub into the Lane B inbox.
package followup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Consumer is the checkpoint name for this consumer.
const Consumer = "qa-merge-followups"

// Test path classes.
const (
	ClassE2E         = "e2e"
	ClassIntegration = "integration"
	ClassUnit        = "unit"
)

// Options configures one consumer run.
type Options struct {
	SegmentsDir string
	Checkpoints *checkpoint.Store
	InboxDir    string
	MarkersDir  string
	DryRun      bool
	MaxEvents   int
}

// Result reports one consumer run.
type Result struct {
	OK              bool     `json:"ok"`
	ProcessedLines  int      `json:"processed_lines"`
	MergeEventsSeen int      `json:"merge_events_seen"`
	Created         []string `json:"created"`
	Skipped         []string `json:"skipped"`
	Warnings        []string `json:"warnings"`
}

// marker is the idempotency record written per handled merge event.
type marker struct {
	Version     int    `json:"version"`
	EventID     string `json:"event_id"`
	ProcessedAt string `json:"processed_at"`
	Intake      string `json:"intake"`
}

// Run consumes merge events past the checkpoint and emits intake stubs for
// obligation violations. Invalid lines warn and are skipped; the checkpoint
// still advances past them.
func Run(opts Options) (*Result, error) {
	result := &Result{OK: true, Created: []string{}, Skipped: []string{}, Warnings: []string{}}

	cp, err := opts.Checkpoints.ReadOffset(Consumer)
	if err != nil {
		return nil, err
	}

	anchorSegment := ""
	anchorLine := -1

	if cp.LastReadSegment != nil {
		anchorSegment = *cp.LastReadSegment
		anchorLine = cp.LastReadOffset
	}

	var last *eventlog.Position

	walkErr := eventlog.ForEachAfter(opts.SegmentsDir, anchorSegment, anchorLine, func(pos eventlog.Position, line []byte) error {
		if opts.MaxEvents > 0 && result.ProcessedLines >= opts.MaxEvents {
			return eventlog.ErrStop
		}

		result.ProcessedLines++
		last = &eventlog.Position{Segment: pos.Segment, Line: pos.Line}

		ev, parseErr := eventlog.ParseLine(line)
		if parseErr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s:%d: %v", pos.Segment, pos.Line, parseErr))

			return nil
		}

		if ev.Type != eventlog.TypeMerge {
			return nil
		}

		result.MergeEventsSeen++

		handleErr := handleMerge(opts, ev, result)
		if handleErr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %s: %v", ev.EventID, handleErr))
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if last != nil && !opts.DryRun {
		cpErr := opts.Checkpoints.WriteOffset(Consumer, &last.Segment, last.Line)
		if cpErr != nil {
			return nil, cpErr
		}
	}

	return result, nil
}

// handleMerge emits an intake stub when the merge obliged an e2e test but
// touched none.
func handleMerge(opts Options, ev *eventlog.Event, result *Result) error {
	if !mustAddE2E(ev) {
		return nil
	}

	if hasClass(unionPaths(ev), ClassE2E) {
		return nil
	}

	markerPath := filepath.Join(opts.MarkersDir, ev.EventID+".json")
	if fsutil.Exists(markerPath) {
		result.Skipped = append(result.Skipped, ev.EventID)

		return nil
	}

	scope := "system"
	if ev.RepoID != "" {
		scope = "repo:" + ev.RepoID
	}

	name, nameErr := intakeName(ev, scope)
	if nameErr != nil {
		return nameErr
	}

	intakePath := filepath.Join(opts.InboxDir, name)

	if opts.DryRun {
		result.Created = append(result.Created, intakePath)

		return nil
	}

	if !fsutil.Exists(intakePath) {
		writeErr := fsutil.WriteFileAtomic(intakePath, []byte(intakeMarkdown(ev, scope)))
		if writeErr != nil {
			return writeErr
		}

		result.Created = append(result.Created, intakePath)
	} else {
		result.Skipped = append(result.Skipped, ev.EventID)
	}

	return fsutil.WriteJSONAtomic(markerPath, marker{
		Version:     1,
		EventID:     ev.EventID,
		ProcessedAt: stamp.ISO(time.Now()),
		Intake:      intakePath,
	})
}

func mustAddE2E(ev *eventlog.Event) bool {
	v, ok := ev.Obligations["must_add_e2e"]
	if !ok {
		return false
	}

	b, isBool := v.(bool)

	return isBool && b
}

// unionPaths merges changed and affected paths, sorted unique.
func unionPaths(ev *eventlog.Event) []string {
	seen := map[string]bool{}

	var out []string

	for _, p := range append(append([]string(nil), ev.ChangedPaths...), ev.AffectedPaths...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	sort.Strings(out)

	return out
}

func hasClass(paths []string, class string) bool {
	for _, p := range paths {
		if ClassifyTestPath(p) == class {
			return true
		}
	}

	return false
}

// ClassifyTestPath buckets a path into e2e, integration, or unit; non-test
// paths return "". The predicate is deterministic and order-sensitive: e2e
// markers win over integration, integration over unit.
func ClassifyTestPath(p string) string {
	lower := strings.ToLower(p)

	switch {
	case strings.Contains(lower, "/cypress/"),
		strings.Contains(lower, "/playwright/"),
		strings.Contains(lower, "/e2e/"),
		strings.HasPrefix(lower, "e2e/"):
		return ClassE2E
	case strings.Contains(lower, "/integration/"),
		strings.Contains(lower, "/itest/"),
		strings.Contains(lower, ".int.test."):
		return ClassIntegration
	case strings.Contains(lower, "__tests__/"),
		strings.Contains(lower, "/test/"),
		strings.Contains(lower, "/tests/"),
		strings.HasPrefix(lower, "test/"),
		strings.HasPrefix(lower, "tests/"),
		strings.Contains(lower, ".test."),
		strings.Contains(lower, ".spec."):
		return ClassUnit
	default:
		return ""
	}
}

// intakeName derives the deterministic intake filename from the event
// timestamp and a content seed, so retries land on the same file.
func intakeName(ev *eventlog.Event, scope string) (string, error) {
	ts, err := stamp.Parse(ev.Timestamp)
	if err != nil {
		return "", err
	}

	obligations, marshalErr := json.Marshal(ev.Obligations)
	if marshalErr != nil {
		return "", fmt.Errorf("encode obligations: %w", marshalErr)
	}

	seed := ev.EventID + ev.WorkID + scope + ev.Commit + string(obligations)
	sum := sha256.Sum256([]byte(seed))

	return fmt.Sprintf("QA-FOLLOWUP-%s_%s.md", stamp.FSSafe(ts), hex.EncodeToString(sum[:4])), nil
}

func intakeMarkdown(ev *eventlog.Event, scope string) string {
	var b strings.Builder

	b.WriteString("# QA follow-up: missing e2e coverage\n\n")
	b.WriteString("A merge promised an end-to-end test but none was added.\n\n")
	b.WriteString("- Scope: `" + scope + "`\n")
	b.WriteString("- Event: `" + ev.EventID + "`\n")

	if ev.WorkID != "" {
		b.WriteString("- Work item: `" + ev.WorkID + "`\n")
	}

	if ev.Commit != "" {
		b.WriteString("- Merge commit: `" + ev.Commit + "`\n")
	}

	b.WriteString("- Merged at: " + ev.Timestamp + "\n")

	if ev.Summary != "" {
		b.WriteString("- Summary: " + ev.Summary + "\n")
	}

	if len(ev.ChangedPaths) > 0 {
		b.WriteString("\nChanged paths:\n\n")

		for _, p := range ev.ChangedPaths {
			b.WriteString("- `" + p + "`\n")
		}
	}

	b.WriteString("\nAdd the missing e2e test and close this intake.\n")

	return b.String()
}
