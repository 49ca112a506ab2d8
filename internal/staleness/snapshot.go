// Package staleness classifies registered repos against their knowledge
// evidence and drives the soft-stale escalation policy.
package staleness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Reason codes, closed vocabulary. never_scanned is the hard-stale reason:
// a repo with no scan at all has no evidence baseline, so the orchestrator
// must raise a decision packet instead of tolerating it.
const (
	ReasonHeadDrift        = "repo_head_drift"
	ReasonUnconsumedMerges = "unconsumed_merge_events"
	ReasonScanTooOld       = "scan_older_than_window"
	ReasonNeverScanned     = "never_scanned"
)

// RepoFacts is the raw observation about one repo before classification.
type RepoFacts struct {
	RepoID             string
	RepoHeadSHA        string
	LastScannedHeadSHA string
	LastScanTime       time.Time
	LastMergeEventTime time.Time
	UnconsumedMerges   int
	ScanSeen           bool
}

// RepoSnapshot is the classified staleness state of one repo.
type RepoSnapshot struct {
	RepoID             string   `json:"repo_id"`
	Stale              bool     `json:"stale"`
	HardStale          bool     `json:"hard_stale"`
	Reasons            []string `json:"reasons"`
	LastScanTime       string   `json:"last_scan_time,omitempty"`
	LastMergeEventTime string   `json:"last_merge_event_time,omitempty"`
	RepoHeadSHA        string   `json:"repo_head_sha,omitempty"`
	LastScannedHeadSHA string   `json:"last_scanned_head_sha,omitempty"`
}

// SoftStale reports whether the repo is stale but not hard-stale.
func (s *RepoSnapshot) SoftStale() bool {
	return s.Stale && !s.HardStale
}

// SystemSnapshot is the union of repo snapshots.
type SystemSnapshot struct {
	Stale          bool           `json:"stale"`
	ObservedAt     string         `json:"observed_at"`
	Repos          []RepoSnapshot `json:"repos"`
	StaleRepos     []string       `json:"stale_repos"`
	HardStaleRepos []string       `json:"hard_stale_repos"`
}

// Classify derives the staleness snapshot from raw repo facts. Any HEAD sha
// difference counts as drift; there is no commit-count tolerance.
func Classify(facts RepoFacts, now time.Time, scanWindow time.Duration) RepoSnapshot {
	snap := RepoSnapshot{
		RepoID:             facts.RepoID,
		RepoHeadSHA:        facts.RepoHeadSHA,
		LastScannedHeadSHA: facts.LastScannedHeadSHA,
	}

	if !facts.LastScanTime.IsZero() {
		snap.LastScanTime = stamp.ISO(facts.LastScanTime)
	}

	if !facts.LastMergeEventTime.IsZero() {
		snap.LastMergeEventTime = stamp.ISO(facts.LastMergeEventTime)
	}

	var reasons []string

	if !facts.ScanSeen {
		reasons = append(reasons, ReasonNeverScanned)

		snap.HardStale = true
	} else {
		if facts.RepoHeadSHA != "" && facts.LastScannedHeadSHA != "" &&
			facts.RepoHeadSHA != facts.LastScannedHeadSHA {
			reasons = append(reasons, ReasonHeadDrift)
		}

		if facts.UnconsumedMerges > 0 {
			reasons = append(reasons, ReasonUnconsumedMerges)
		}

		if scanWindow > 0 && now.Sub(facts.LastScanTime) > scanWindow {
			reasons = append(reasons, ReasonScanTooOld)
		}
	}

	sort.Strings(reasons)

	snap.Reasons = dedupSorted(reasons)
	snap.Stale = len(snap.Reasons) > 0

	return snap
}

// Combine folds repo snapshots into the system snapshot, sorted by repo id.
func Combine(repos []RepoSnapshot, now time.Time) *SystemSnapshot {
	sorted := make([]RepoSnapshot, len(repos))
	copy(sorted, repos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RepoID < sorted[j].RepoID })

	system := &SystemSnapshot{ObservedAt: stamp.ISO(now), Repos: sorted}

	for _, snap := range sorted {
		if snap.Stale {
			system.Stale = true
			system.StaleRepos = append(system.StaleRepos, snap.RepoID)
		}

		if snap.HardStale {
			system.HardStaleRepos = append(system.HardStaleRepos, snap.RepoID)
		}
	}

	return system
}

// Banner renders the fixed-shape soft-stale warning block writers prepend to
// markdown outputs.
func Banner(snap RepoSnapshot) string {
	var b strings.Builder

	b.WriteString("> **⚠ Knowledge may be stale for `" + snap.RepoID + "`**\n")
	b.WriteString(">\n")
	b.WriteString("> - Reasons: " + strings.Join(snap.Reasons, ", ") + "\n")
	b.WriteString("> - Last scan: " + orNever(snap.LastScanTime) + "\n")
	b.WriteString("> - Last merge event: " + orNever(snap.LastMergeEventTime) + "\n")
	b.WriteString("> - Repo HEAD: " + orNever(snap.RepoHeadSHA) + "\n")
	b.WriteString("> - Last scanned HEAD: " + orNever(snap.LastScannedHeadSHA) + "\n")

	return b.String()
}

func orNever(s string) string {
	if s == "" {
		return "(none)"
	}

	return s
}

func dedupSorted(in []string) []string {
	var out []string

	for _, s := range in {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}

	return out
}

// String summarizes the system snapshot for logs.
func (s *SystemSnapshot) String() string {
	return fmt.Sprintf("stale=%v soft=%d hard=%d repos=%d",
		s.Stale, len(s.StaleRepos)-len(s.HardStaleRepos), len(s.HardStaleRepos), len(s.Repos))
}
