package refresh

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// summaryTail is how many recent events the summary carries.
const summaryTail = 50

// SummaryEvent is one event reference inside the summary tail.
type SummaryEvent struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Scope     string `json:"scope"`
	RepoID    string `json:"repo_id,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Summary is the compacted events summary published into the knowledge repo.
type Summary struct {
	Version       int            `json:"version"`
	GeneratedAt   string         `json:"generated_at"`
	SourceHash    string         `json:"source_hash"`
	TotalEvents   int            `json:"total_events"`
	CountsByType  map[string]int `json:"counts_by_type"`
	CountsByScope map[string]int `json:"counts_by_scope"`
	CountsByRepo  map[string]int `json:"counts_by_repo"`
	LastEvents    []SummaryEvent `json:"last_events"`
}

// UpdateSummary recomputes the events summary and writes it only when the
// source log content changed, so downstream readers see stable bytes between
// refreshes. Reports whether a write happened.
func UpdateSummary(lay *layout.Layout) (bool, error) {
	summary, err := computeSummary(lay.SegmentsDir())
	if err != nil {
		return false, err
	}

	path := lay.EventsSummaryPath()

	if fsutil.Exists(path) {
		var prior Summary

		readErr := fsutil.ReadJSON(path, &prior)
		if readErr == nil && prior.SourceHash == summary.SourceHash {
			return false, nil
		}
	}

	writeErr := fsutil.WriteJSONAtomic(path, summary)
	if writeErr != nil {
		return false, writeErr
	}

	return true, nil
}

// computeSummary aggregates the whole log. The source hash covers every raw
// line, so any append or compaction changes it.
func computeSummary(segmentsDir string) (*Summary, error) {
	summary := &Summary{
		Version:       1,
		GeneratedAt:   stamp.ISO(time.Now()),
		CountsByType:  map[string]int{},
		CountsByScope: map[string]int{},
		CountsByRepo:  map[string]int{},
		LastEvents:    []SummaryEvent{},
	}

	hash := sha256.New()

	var tail []SummaryEvent

	err := eventlog.ForEach(segmentsDir, func(_ eventlog.Position, raw []byte) error {
		hash.Write(raw)
		hash.Write([]byte{'\n'})

		ev, parseErr := eventlog.ParseLine(raw)
		if parseErr != nil {
			return parseErr
		}

		summary.TotalEvents++
		summary.CountsByType[ev.Type]++
		summary.CountsByScope[ev.Scope]++

		if ev.RepoID != "" {
			summary.CountsByRepo[ev.RepoID]++
		}

		tail = append(tail, SummaryEvent{
			EventID:   ev.EventID,
			Timestamp: ev.Timestamp,
			Type:      ev.Type,
			Scope:     ev.Scope,
			RepoID:    ev.RepoID,
			Summary:   ev.Summary,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tail, func(i, j int) bool {
		if tail[i].Timestamp != tail[j].Timestamp {
			return tail[i].Timestamp < tail[j].Timestamp
		}

		return tail[i].EventID < tail[j].EventID
	})

	if len(tail) > summaryTail {
		tail = tail[len(tail)-summaryTail:]
	}

	summary.LastEvents = tail
	summary.SourceHash = hex.EncodeToString(hash.Sum(nil))

	return summary, nil
}
