package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
)

// Stages, in pipeline order.
const (
	StageDecisionNeeded             = "DECISION_NEEDED"
	StageDecisionAnswered           = "DECISION_ANSWERED"
	StageNeedsIndex                 = "NEEDS_INDEX"
	StageNeedsScan                  = "NEEDS_SCAN"
	StageNeedsKickoff               = "NEEDS_KICKOFF"
	StageRefreshNeeded              = "REFRESH_NEEDED"
	StageCommitteePending           = "COMMITTEE_PENDING"
	StageCommitteeRepoFailed        = "COMMITTEE_REPO_FAILED"
	StageCommitteeRepoPassed        = "COMMITTEE_REPO_PASSED"
	StageCommitteeIntegrationFailed = "COMMITTEE_INTEGRATION_FAILED"
	StageCommitteePassed            = "COMMITTEE_PASSED"
	StageReadyForWriter             = "READY_FOR_WRITER"
)

// Action types.
const (
	ActionQuestion    = "question"
	ActionIndex       = "index"
	ActionScan        = "scan"
	ActionKickoff     = "kickoff"
	ActionRefresh     = "refresh"
	ActionCommittee   = "committee"
	ActionIntegration = "integration"
	ActionWriter      = "writer"
	ActionNone        = "none"
)

// Action is the next_action block of the lane state artifact.
type Action struct {
	Type        string   `json:"type"`
	TargetRepos []string `json:"target_repos"`
	Reason      string   `json:"reason"`
}

// Decision pairs the stage with its action.
type Decision struct {
	Stage  string
	Action Action
}

// decide computes (stage, next_action) by the fixed priority list, first
// match wins. previousStage is the persisted stage of the prior tick; it
// drives the one-shot DECISION_ANSWERED resume and the COMMITTEE_PASSED →
// READY_FOR_WRITER handoff.
func decide(ev *evidence, previousStage string, limit int) Decision {
	d := decideBase(ev, previousStage, limit)

	if previousStage == StageDecisionNeeded && len(ev.OpenDecisions) == 0 {
		d.Stage = StageDecisionAnswered
		d.Action.Reason = "decision answered, resuming: " + d.Action.Reason
	}

	if ev.Sufficiency != knowledge.SufficiencySufficient &&
		(d.Stage == StageCommitteePassed || d.Stage == StageReadyForWriter) {
		d.Action.Reason += " [SUFFICIENCY_RECOMMENDED: knowledge sufficiency is " + ev.Sufficiency + "]"
	}

	return d
}

func decideBase(ev *evidence, previousStage string, limit int) Decision {
	if len(ev.OpenDecisions) > 0 {
		ids := make([]string, 0, len(ev.OpenDecisions))

		for _, dp := range ev.OpenDecisions {
			ids = append(ids, dp.DecisionID)
		}

		return Decision{
			Stage: StageDecisionNeeded,
			Action: Action{
				Type:        ActionQuestion,
				TargetRepos: []string{},
				Reason:      "open decision packets: " + strings.Join(ids, ", "),
			},
		}
	}

	if ev.State.EvidenceLevel == LevelNone {
		targets := bound(ev.MissingIndex, limit)

		return Decision{
			Stage: StageNeedsIndex,
			Action: Action{
				Type:        ActionIndex,
				TargetRepos: targets,
				Reason:      fmt.Sprintf("%d repo(s) have no index", len(ev.MissingIndex)),
			},
		}
	}

	if ev.State.EvidenceLevel == LevelPartial {
		targets := bound(ev.MissingScan, limit)

		return Decision{
			Stage: StageNeedsScan,
			Action: Action{
				Type:        ActionScan,
				TargetRepos: targets,
				Reason:      fmt.Sprintf("%d repo(s) have no knowledge scan", len(ev.MissingScan)),
			},
		}
	}

	if !ev.KickoffOK && ev.codeEvidence() < codeEvidenceFloor {
		return Decision{
			Stage: StageNeedsKickoff,
			Action: Action{
				Type:        ActionKickoff,
				TargetRepos: []string{},
				Reason:      "kickoff interview missing and code evidence is low",
			},
		}
	}

	if ev.State.PendingEvents > 0 {
		return Decision{
			Stage: StageRefreshNeeded,
			Action: Action{
				Type:        ActionRefresh,
				TargetRepos: []string{},
				Reason:      fmt.Sprintf("%d unconsumed event(s) in the log", ev.State.PendingEvents),
			},
		}
	}

	if !ev.State.MinimumSufficient {
		return Decision{
			Stage: StageCommitteePending,
			Action: Action{
				Type:        ActionCommittee,
				TargetRepos: []string{},
				Reason:      "minimum knowledge requirements not satisfied",
			},
		}
	}

	if failed := committeeRepos(ev, committeeFailed); len(failed) > 0 {
		return Decision{
			Stage: StageCommitteeRepoFailed,
			Action: Action{
				Type:        ActionCommittee,
				TargetRepos: failed,
				Reason:      "repo committee(s) concluded evidence invalid",
			},
		}
	}

	if pending := committeeRepos(ev, committeePending); len(pending) > 0 {
		return Decision{
			Stage: StageCommitteePending,
			Action: Action{
				Type:        ActionCommittee,
				TargetRepos: pending,
				Reason:      "repo committee(s) missing or stale",
			},
		}
	}

	if ev.Integration == nil || ev.IntegrationStale {
		return Decision{
			Stage: StageCommitteeRepoPassed,
			Action: Action{
				Type:        ActionIntegration,
				TargetRepos: []string{},
				Reason:      "all repo committees passed, integration pending",
			},
		}
	}

	if !ev.Integration.EvidenceValid {
		return Decision{
			Stage: StageCommitteeIntegrationFailed,
			Action: Action{
				Type:        ActionIntegration,
				TargetRepos: []string{},
				Reason:      "integration committee concluded evidence invalid",
			},
		}
	}

	// Integration passed. The stage holds at COMMITTEE_PASSED for one tick
	// before handing off to the writer.
	if previousStage == StageCommitteePassed || previousStage == StageReadyForWriter {
		return Decision{
			Stage: StageReadyForWriter,
			Action: Action{
				Type:        ActionWriter,
				TargetRepos: []string{},
				Reason:      "evidence complete and committees passed",
			},
		}
	}

	return Decision{
		Stage: StageCommitteePassed,
		Action: Action{
			Type:        ActionWriter,
			TargetRepos: []string{},
			Reason:      "integration committee passed",
		},
	}
}

func committeeFailed(re repoEvidence) bool {
	return re.Committee != nil && !re.Committee.EvidenceValid
}

func committeePending(re repoEvidence) bool {
	return re.Committee == nil || re.CommitteeStale
}

func committeeRepos(ev *evidence, pred func(repoEvidence) bool) []string {
	var out []string

	for _, re := range ev.Repos {
		if pred(re) {
			out = append(out, re.RepoID)
		}
	}

	return out
}

func bound(repos []string, limit int) []string {
	if limit > 0 && len(repos) > limit {
		return append([]string(nil), repos[:limit]...)
	}

	return append([]string(nil), repos...)
}

// milestone maps a stage onto the coarse milestone reported in the evidence
// state.
func milestone(stage string) string {
	switch stage {
	case StageDecisionNeeded:
		return "blocked_on_decision"
	case StageNeedsIndex, StageNeedsScan, StageNeedsKickoff, StageRefreshNeeded, StageDecisionAnswered:
		return "evidence_collection"
	case StageCommitteePending, StageCommitteeRepoFailed, StageCommitteeRepoPassed, StageCommitteeIntegrationFailed:
		return "committee_review"
	default:
		return "synthesis_ready"
	}
}
