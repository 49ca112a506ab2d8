// Package knowledge reads and writes the evidence artifacts surrounding the
// orchestrator: knowledge scans, committee conclusions, stale markers,
// kickoff, sufficiency, and decision packets. LLM-backed collaborators
// (committee chairs, writers) stay behind interfaces; this package only
// handles their on-disk contracts.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Decision packet statuses.
const (
	DecisionOpen     = "open"
	DecisionAnswered = "answered"
	DecisionResolved = "resolved"
)

// Sufficiency statuses. Anything other than sufficient triggers the
// non-blocking recommendation annotation.
const (
	SufficiencySufficient = "sufficient"
	SufficiencyUnknown    = "unknown"
)

// ScanArtifact is the per-repo knowledge scan marker produced by the scan
// collaborator.
type ScanArtifact struct {
	Version          int    `json:"version"`
	RepoID           string `json:"repo_id"`
	ScannedAt        string `json:"scanned_at"`
	HeadSHA          string `json:"head_sha"`
	CoverageComplete bool   `json:"coverage_complete"`
}

// CommitteeStatus is a committee conclusion artifact (per-repo or
// integration).
type CommitteeStatus struct {
	Version       int    `json:"version"`
	RepoID        string `json:"repo_id,omitempty"`
	Scope         string `json:"scope,omitempty"`
	EvidenceValid bool   `json:"evidence_valid"`
	ConcludedAt   string `json:"concluded_at,omitempty"`
}

// StaleMarker invalidates a committee conclusion until it re-runs.
type StaleMarker struct {
	Version  int    `json:"version"`
	Reason   string `json:"reason"`
	MarkedAt string `json:"marked_at"`
}

// Kickoff is the interview artifact gating early stages.
type Kickoff struct {
	Version     int    `json:"version"`
	Sufficient  bool   `json:"sufficient"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Sufficiency is the knowledge sufficiency verdict.
type Sufficiency struct {
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// DecisionPacket is the subset of a decision packet the orchestrator needs.
type DecisionPacket struct {
	Version    int    `json:"version"`
	DecisionID string `json:"decision_id"`
	Status     string `json:"status"`
}

// LoadScan reads a scan artifact; a missing file returns (nil, nil).
func LoadScan(path string) (*ScanArtifact, error) {
	if !fsutil.Exists(path) {
		return nil, nil
	}

	var scan ScanArtifact

	err := fsutil.ReadJSON(path, &scan)
	if err != nil {
		return nil, err
	}

	return &scan, nil
}

// WriteScan validates nothing beyond shape and writes the artifact.
func WriteScan(path string, scan *ScanArtifact) error {
	return fsutil.WriteJSONAtomic(path, scan)
}

// LoadCommittee reads a committee conclusion; missing returns (nil, nil).
func LoadCommittee(path string) (*CommitteeStatus, error) {
	if !fsutil.Exists(path) {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read committee status: %w", err)
	}

	validateErr := schema.ValidateBytes(schema.CommitteeStatus, raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var status CommitteeStatus

	decodeErr := fsutil.ReadJSON(path, &status)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return &status, nil
}

// MarkStale writes a stale marker invalidating the committee at dir.
func MarkStale(path, reason string, now time.Time) error {
	marker := StaleMarker{Version: 1, Reason: reason, MarkedAt: stamp.ISO(now)}

	return fsutil.WriteJSONAtomic(path, marker)
}

// IsStale reports whether a stale marker is present.
func IsStale(path string) bool {
	return fsutil.Exists(path)
}

// ClearStale removes a stale marker; missing is fine.
func ClearStale(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale marker: %w", err)
	}

	return nil
}

// LoadKickoff reads the kickoff artifact; missing returns (nil, nil).
func LoadKickoff(path string) (*Kickoff, error) {
	if !fsutil.Exists(path) {
		return nil, nil
	}

	var kickoff Kickoff

	err := fsutil.ReadJSON(path, &kickoff)
	if err != nil {
		return nil, err
	}

	return &kickoff, nil
}

// LoadSufficiency reads the sufficiency verdict, defaulting to unknown.
func LoadSufficiency(path string) (*Sufficiency, error) {
	if !fsutil.Exists(path) {
		return &Sufficiency{Version: 1, Status: SufficiencyUnknown}, nil
	}

	var s Sufficiency

	err := fsutil.ReadJSON(path, &s)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// ListOpenDecisions returns the open decision packets under dir, sorted by
// decision id. A missing directory means no decisions.
func ListOpenDecisions(dir string) ([]DecisionPacket, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list decision packets: %w", err)
	}

	var open []DecisionPacket

	for _, path := range matches {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read decision packet: %w", readErr)
		}

		validateErr := schema.ValidateBytes(schema.DecisionPacket, raw)
		if validateErr != nil {
			return nil, validateErr
		}

		var packet DecisionPacket

		decodeErr := fsutil.ReadJSON(path, &packet)
		if decodeErr != nil {
			return nil, decodeErr
		}

		if packet.Status == DecisionOpen {
			open = append(open, packet)
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].DecisionID < open[j].DecisionID })

	return open, nil
}
