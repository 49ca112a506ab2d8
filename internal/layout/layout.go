// Package layout maps the lane filesystem contract onto concrete paths.
// Every component resolves artifact locations through this package so the
// on-disk layout stays in one place.
package layout

import "path/filepath"

// Lock and snapshot retention caps.
const (
	LockStatusKeep  = 50
	RefreshHintKeep = 50
)

// LockName is the single Lane A orchestrator lock.
const LockName = "lane-a-orchestrate"

// Layout resolves paths under one project's operational root.
type Layout struct {
	// OpsRoot is the absolute operational state root.
	OpsRoot string
	// KnowledgeRoot is the per-project knowledge repo root.
	KnowledgeRoot string
}

// New creates a layout rooted at opsRoot with the given knowledge repo dir.
func New(opsRoot, knowledgeRoot string) *Layout {
	return &Layout{OpsRoot: opsRoot, KnowledgeRoot: knowledgeRoot}
}

// LaneA returns the lane A root directory.
func (l *Layout) LaneA() string { return filepath.Join(l.OpsRoot, "ai", "lane_a") }

// StateDir returns the orchestrator checkpoint directory.
func (l *Layout) StateDir() string { return filepath.Join(l.LaneA(), "checkpoints") }

// StatePath returns the machine-readable orchestrator state artifact.
func (l *Layout) StatePath() string { return filepath.Join(l.StateDir(), "state.json") }

// StateMarkdownPath returns the human view of the orchestrator state.
func (l *Layout) StateMarkdownPath() string { return filepath.Join(l.StateDir(), "STATE.md") }

// NextActionHintPath returns the next-action hint artifact.
func (l *Layout) NextActionHintPath() string {
	return filepath.Join(l.StateDir(), "next_action_hint.json")
}

// StateErrorPath returns the orchestrator error artifact.
func (l *Layout) StateErrorPath() string { return filepath.Join(l.StateDir(), "state.error.json") }

// SegmentsDir returns the event log segment directory.
func (l *Layout) SegmentsDir() string { return filepath.Join(l.LaneA(), "events", "segments") }

// SegmentArchiveDir returns the lz4 archive directory for compacted segments.
func (l *Layout) SegmentArchiveDir() string { return filepath.Join(l.LaneA(), "events", "archive") }

// CheckpointsDir returns the consumer checkpoint directory.
func (l *Layout) CheckpointsDir() string { return filepath.Join(l.LaneA(), "events", "checkpoints") }

// QAFollowupsDir returns the QA follow-up idempotency marker directory.
func (l *Layout) QAFollowupsDir() string { return filepath.Join(l.LaneA(), "events", "qa_followups") }

// StalenessDir returns the staleness tracker directory.
func (l *Layout) StalenessDir() string { return filepath.Join(l.LaneA(), "staleness") }

// SoftStaleTrackerPath returns the soft-stale tracker artifact.
func (l *Layout) SoftStaleTrackerPath() string {
	return filepath.Join(l.StalenessDir(), "soft_stale_tracker.json")
}

// DailyCounterPath returns the soft-stale escalation counter for a UTC day key.
func (l *Layout) DailyCounterPath(day string) string {
	return filepath.Join(l.StalenessDir(), "soft_stale_escalations_"+day+".json")
}

// DecisionPacketsDir returns the decision packet directory.
func (l *Layout) DecisionPacketsDir() string { return filepath.Join(l.LaneA(), "decision_packets") }

// MeetingsDir returns the update-meeting directory.
func (l *Layout) MeetingsDir() string { return filepath.Join(l.LaneA(), "meetings") }

// RefreshHintsDir returns the refresh hint directory.
func (l *Layout) RefreshHintsDir() string { return filepath.Join(l.LaneA(), "refresh_hints") }

// LocksDir returns the lock directory.
func (l *Layout) LocksDir() string { return filepath.Join(l.LaneA(), "locks") }

// LockPath returns the Lane A orchestrator lock file.
func (l *Layout) LockPath() string {
	return filepath.Join(l.LocksDir(), LockName+".lock.json")
}

// LockStatusDir returns the lock status snapshot directory.
func (l *Layout) LockStatusDir() string { return filepath.Join(l.LocksDir(), "status") }

// LogsDir returns the lane A log directory.
func (l *Layout) LogsDir() string { return filepath.Join(l.LaneA(), "logs") }

// LaneBInboxDir returns the Lane B intake inbox.
func (l *Layout) LaneBInboxDir() string {
	return filepath.Join(l.OpsRoot, "ai", "lane_b", "inbox")
}

// RegistryPath returns the repository registry artifact.
func (l *Layout) RegistryPath() string {
	return filepath.Join(l.OpsRoot, "ai", "registry", "repos.json")
}

// EvidenceDir returns the per-repo evidence directory.
func (l *Layout) EvidenceDir(repoID string) string {
	return filepath.Join(l.LaneA(), "evidence", repoID)
}

// RepoIndexPath returns the per-repo index artifact.
func (l *Layout) RepoIndexPath(repoID string) string {
	return filepath.Join(l.EvidenceDir(repoID), "repo_index.json")
}

// RepoFingerprintsPath returns the per-repo fingerprint artifact.
func (l *Layout) RepoFingerprintsPath(repoID string) string {
	return filepath.Join(l.EvidenceDir(repoID), "repo_fingerprints.json")
}

// KnowledgeScanPath returns the per-repo knowledge scan artifact.
func (l *Layout) KnowledgeScanPath(repoID string) string {
	return filepath.Join(l.EvidenceDir(repoID), "knowledge_scan.json")
}

// CommitteeDir returns the per-repo committee directory.
func (l *Layout) CommitteeDir(repoID string) string {
	return filepath.Join(l.EvidenceDir(repoID), "committee")
}

// CommitteeStatusPath returns the per-repo committee conclusion artifact.
func (l *Layout) CommitteeStatusPath(repoID string) string {
	return filepath.Join(l.CommitteeDir(repoID), "COMMITTEE.json")
}

// CommitteeStalePath returns the per-repo committee stale marker.
func (l *Layout) CommitteeStalePath(repoID string) string {
	return filepath.Join(l.CommitteeDir(repoID), "STALE.json")
}

// IntegrationDir returns the system integration committee directory.
func (l *Layout) IntegrationDir() string {
	return filepath.Join(l.LaneA(), "evidence", "_integration")
}

// IntegrationStatusPath returns the integration committee conclusion artifact.
func (l *Layout) IntegrationStatusPath() string {
	return filepath.Join(l.IntegrationDir(), "INTEGRATION.json")
}

// IntegrationStalePath returns the integration committee stale marker.
func (l *Layout) IntegrationStalePath() string {
	return filepath.Join(l.IntegrationDir(), "STALE.json")
}

// KickoffPath returns the kickoff artifact.
func (l *Layout) KickoffPath() string {
	return filepath.Join(l.LaneA(), "kickoff", "KICKOFF.json")
}

// SufficiencyPath returns the knowledge sufficiency artifact.
func (l *Layout) SufficiencyPath() string {
	return filepath.Join(l.LaneA(), "sufficiency.json")
}

// EventsSummaryPath returns the compacted events summary in the knowledge repo.
func (l *Layout) EventsSummaryPath() string {
	return filepath.Join(l.KnowledgeRoot, "events", "summary.json")
}
