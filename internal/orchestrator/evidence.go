package orchestrator

import (
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/indexer"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/refresh"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

// Evidence levels.
const (
	LevelNone     = "none"
	LevelPartial  = "partial"
	LevelComplete = "complete"
)

// codeEvidenceFloor is the fingerprinted-file count below which code evidence
// counts as low and a kickoff interview is required.
const codeEvidenceFloor = 3

// EvidenceState is the evidence_state block of the lane state artifact.
type EvidenceState struct {
	EvidenceLevel        string  `json:"evidence_level"`
	ScanCoverageComplete bool    `json:"scan_coverage_complete"`
	MinimumSufficient    bool    `json:"minimum_sufficient"`
	PendingEvents        int     `json:"pending_events"`
	LastIndexAt          *string `json:"last_index_at"`
	LastScanAt           *string `json:"last_scan_at"`
	LastSynthAt          *string `json:"last_synth_at"`
	MilestoneStatus      string  `json:"milestone_status"`
}

// repoEvidence is the per-repo view the stage decision works from.
type repoEvidence struct {
	RepoID           string
	HasIndex         bool
	HasScan          bool
	CoverageComplete bool
	CodeFingerprints int
	Committee        *knowledge.CommitteeStatus
	CommitteeStale   bool
}

// evidence is everything the stage decision reads, computed once per tick.
type evidence struct {
	State            EvidenceState
	Repos            []repoEvidence
	MissingIndex     []string
	MissingScan      []string
	OpenDecisions    []knowledge.DecisionPacket
	KickoffOK        bool
	Sufficiency      string
	Integration      *knowledge.CommitteeStatus
	IntegrationStale bool
}

// codeEvidence sums fingerprinted files in code-bearing categories across
// all repos.
func (e *evidence) codeEvidence() int {
	total := 0

	for _, repo := range e.Repos {
		total += repo.CodeFingerprints
	}

	return total
}

// computeEvidence reads every evidence artifact for the active registry and
// derives the evidence state.
func computeEvidence(lay *layout.Layout, reg *registry.Registry) (*evidence, error) {
	ev := &evidence{MissingIndex: []string{}, MissingScan: []string{}}

	var lastIndexAt, lastScanAt string

	for _, repo := range reg.Active() {
		re := repoEvidence{RepoID: repo.RepoID}

		if fsutil.Exists(lay.RepoIndexPath(repo.RepoID)) && fsutil.Exists(lay.RepoFingerprintsPath(repo.RepoID)) {
			re.HasIndex = true

			var fp indexer.RepoFingerprints

			readErr := fsutil.ReadJSON(lay.RepoFingerprintsPath(repo.RepoID), &fp)
			if readErr != nil {
				return nil, readErr
			}

			re.CodeFingerprints = countCodeFingerprints(fp)

			if fp.CapturedAt > lastIndexAt {
				lastIndexAt = fp.CapturedAt
			}
		} else {
			ev.MissingIndex = append(ev.MissingIndex, repo.RepoID)
		}

		scan, scanErr := knowledge.LoadScan(lay.KnowledgeScanPath(repo.RepoID))
		if scanErr != nil {
			return nil, scanErr
		}

		if scan != nil {
			re.HasScan = true
			re.CoverageComplete = scan.CoverageComplete

			if scan.ScannedAt > lastScanAt {
				lastScanAt = scan.ScannedAt
			}
		} else {
			ev.MissingScan = append(ev.MissingScan, repo.RepoID)
		}

		committee, committeeErr := knowledge.LoadCommittee(lay.CommitteeStatusPath(repo.RepoID))
		if committeeErr != nil {
			return nil, committeeErr
		}

		re.Committee = committee
		re.CommitteeStale = knowledge.IsStale(lay.CommitteeStalePath(repo.RepoID))

		ev.Repos = append(ev.Repos, re)
	}

	decisions, decisionsErr := knowledge.ListOpenDecisions(lay.DecisionPacketsDir())
	if decisionsErr != nil {
		return nil, decisionsErr
	}

	ev.OpenDecisions = decisions

	kickoff, kickoffErr := knowledge.LoadKickoff(lay.KickoffPath())
	if kickoffErr != nil {
		return nil, kickoffErr
	}

	ev.KickoffOK = kickoff != nil && kickoff.Sufficient

	sufficiency, sufficiencyErr := knowledge.LoadSufficiency(lay.SufficiencyPath())
	if sufficiencyErr != nil {
		return nil, sufficiencyErr
	}

	ev.Sufficiency = sufficiency.Status

	integration, integrationErr := knowledge.LoadCommittee(lay.IntegrationStatusPath())
	if integrationErr != nil {
		return nil, integrationErr
	}

	ev.Integration = integration
	ev.IntegrationStale = knowledge.IsStale(lay.IntegrationStalePath())

	pending, pendingErr := refresh.PendingEvents(lay)
	if pendingErr != nil {
		return nil, pendingErr
	}

	ev.State = deriveState(ev, pending, lastIndexAt, lastScanAt)

	return ev, nil
}

func deriveState(ev *evidence, pending int, lastIndexAt, lastScanAt string) EvidenceState {
	state := EvidenceState{
		EvidenceLevel: LevelComplete,
		PendingEvents: pending,
		LastIndexAt:   nullable(lastIndexAt),
		LastScanAt:    nullable(lastScanAt),
	}

	switch {
	case len(ev.MissingIndex) > 0:
		state.EvidenceLevel = LevelNone
	case len(ev.MissingScan) > 0:
		state.EvidenceLevel = LevelPartial
	}

	state.ScanCoverageComplete = len(ev.Repos) > 0 && len(ev.MissingScan) == 0

	for _, repo := range ev.Repos {
		if repo.HasScan && !repo.CoverageComplete {
			state.ScanCoverageComplete = false
		}
	}

	state.MinimumSufficient = state.EvidenceLevel == LevelComplete &&
		state.ScanCoverageComplete &&
		(ev.KickoffOK || ev.codeEvidence() >= codeEvidenceFloor)

	return state
}

func countCodeFingerprints(fp indexer.RepoFingerprints) int {
	count := 0

	for _, f := range fp.Files {
		switch f.Category {
		case indexer.CategorySource, indexer.CategoryAPIContract,
			indexer.CategorySchema, indexer.CategoryMigration:
			count++
		}
	}

	return count
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
