// Package orchestrator is the Lane A state machine: each tick computes the
// evidence state under a cross-process lock, decides the single next action,
// persists the state artifacts, and executes at most one externally
// observable action.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/config"
	"github.com/Sumatoshi-tech/lanekeeper/internal/followup"
	"github.com/Sumatoshi-tech/lanekeeper/internal/indexer"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/lock"
	"github.com/Sumatoshi-tech/lanekeeper/internal/observability"
	"github.com/Sumatoshi-tech/lanekeeper/internal/refresh"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
	"github.com/Sumatoshi-tech/lanekeeper/internal/staleness"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// ReasonLockHeld is the skip reason when another tick holds the lock.
const ReasonLockHeld = "lock_held"

// Result is the public outcome of one orchestrate tick.
type Result struct {
	OK            bool           `json:"ok"`
	Skipped       bool           `json:"skipped,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Stage         string         `json:"stage,omitempty"`
	NextAction    *Action        `json:"next_action,omitempty"`
	EvidenceState *EvidenceState `json:"evidence_state,omitempty"`
	Logs          []string       `json:"logs"`
	Message       string         `json:"message,omitempty"`
}

// Orchestrator runs Lane A ticks.
type Orchestrator struct {
	Config   *config.Config
	Layout   *layout.Layout
	Logger   *slog.Logger
	Scanner  knowledge.Scanner
	Meetings knowledge.Meetings
	Limit    int
	DryRun   bool

	now func() time.Time
}

// New wires an orchestrator with the default collaborators.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	lay := layout.New(cfg.OpsRoot, cfg.KnowledgeRepoDir)

	return &Orchestrator{
		Config:   cfg,
		Layout:   lay,
		Logger:   logger,
		Scanner:  knowledge.NewRecorder(),
		Meetings: &knowledge.FSMeetings{Dir: lay.MeetingsDir()},
		now:      time.Now,
	}
}

// Orchestrate runs one tick. A held lock is a clean skip, not an error; any
// tick failure is captured into the error artifact and returned as ok=false.
func (o *Orchestrator) Orchestrate(ctx context.Context) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "lanekeeper.tick")
	defer span.End()

	mgr := lock.NewManager(o.Layout.LockPath(), layout.LockName, o.Config.LockTTL,
		o.Config.ReposRoot, o.Config.OpsRoot)

	acq, err := mgr.Acquire()
	if err != nil {
		o.writeLockSnapshot("error", err.Error())

		return nil, err
	}

	if !acq.Acquired {
		o.writeLockSnapshot(ReasonLockHeld, acq.Reason)

		return &Result{OK: true, Skipped: true, Reason: ReasonLockHeld, Logs: []string{}}, nil
	}

	status := "acquired"
	if acq.BrokeStale {
		status = "broke_stale"
	}

	o.writeLockSnapshot(status, "")

	defer func() {
		_, releaseErr := mgr.Release(acq.OwnerToken)
		if releaseErr != nil {
			o.Logger.ErrorContext(ctx, "release lock", "error", releaseErr)
		}
	}()

	result := o.guardedTick(ctx)

	return result, nil
}

// guardedTick runs the tick body, converting panics and errors into the
// error artifact.
func (o *Orchestrator) guardedTick(ctx context.Context) (result *Result) {
	defer func() {
		r := recover()
		if r != nil {
			message := fmt.Sprintf("panic: %v", r)

			o.Logger.ErrorContext(ctx, "tick panicked", "panic", r)
			persistError(o.Layout, o.now(), message, string(debug.Stack()))

			result = &Result{OK: false, Message: message, Logs: []string{}}
		}
	}()

	result, err := o.tick(ctx)
	if err != nil {
		o.Logger.ErrorContext(ctx, "tick failed", "error", err)
		persistError(o.Layout, o.now(), err.Error(), string(debug.Stack()))

		return &Result{OK: false, Message: err.Error(), Logs: []string{}}
	}

	return result
}

func (o *Orchestrator) tick(ctx context.Context) (*Result, error) {
	result := &Result{OK: true, Logs: []string{}}

	reg, err := registry.Load(o.Layout.RegistryPath())
	if err != nil {
		return nil, err
	}

	ev, evErr := computeEvidence(o.Layout, reg)
	if evErr != nil {
		return nil, evErr
	}

	previousStage := loadPreviousStage(o.Layout)
	decision := decide(ev, previousStage, o.Limit)

	ev.State.MilestoneStatus = milestone(decision.Stage)

	state := &LaneState{
		Version:       1,
		Stage:         decision.Stage,
		EvidenceState: ev.State,
		NextAction:    decision.Action,
		UpdatedAt:     stamp.ISO(o.now()),
	}

	persistErr := persistState(o.Layout, state)
	if persistErr != nil {
		return nil, persistErr
	}

	result.Stage = decision.Stage
	result.NextAction = &decision.Action
	result.EvidenceState = &ev.State

	o.Logger.InfoContext(ctx, "stage decided",
		"stage", decision.Stage, "action", decision.Action.Type,
		"targets", decision.Action.TargetRepos)

	if !o.DryRun {
		execErr := o.execute(ctx, reg, decision, result)
		if execErr != nil {
			return nil, execErr
		}
	}

	o.runFollowups(ctx, result)
	o.observeStaleness(ctx, reg, result)

	return result, nil
}

// execute performs the single decided action.
func (o *Orchestrator) execute(ctx context.Context, reg *registry.Registry, decision Decision, result *Result) error {
	switch decision.Action.Type {
	case ActionIndex:
		return o.runIndex(ctx, reg, decision.Action.TargetRepos, result)
	case ActionScan:
		return o.runScan(ctx, reg, decision.Action.TargetRepos, result)
	case ActionRefresh:
		return o.runRefresh(ctx, reg, result)
	default:
		result.Logs = append(result.Logs, "action "+decision.Action.Type+" scheduled for collaborator")

		return nil
	}
}

// runIndex indexes the target repos sequentially, aborting on the first
// failure.
func (o *Orchestrator) runIndex(ctx context.Context, reg *registry.Registry, targets []string, result *Result) error {
	known := make([]string, 0, len(reg.Active()))

	for _, repo := range reg.Active() {
		known = append(known, repo.RepoID)
	}

	for _, repoID := range targets {
		repo, err := reg.Lookup(repoID)
		if err != nil {
			return err
		}

		_, indexErr := indexer.Index(ctx, indexer.Options{
			RepoID:       repoID,
			RepoPath:     repo.WorktreePath(o.Config.ReposRoot),
			OutputDir:    o.Layout.EvidenceDir(repoID),
			ErrorDir:     o.Layout.LogsDir(),
			ActiveBranch: repo.ActiveBranch,
			KnownRepoIDs: known,
		})
		if indexErr != nil {
			return fmt.Errorf("index %s: %w", repoID, indexErr)
		}

		result.Logs = append(result.Logs, "indexed "+repoID)
	}

	return nil
}

func (o *Orchestrator) runScan(ctx context.Context, reg *registry.Registry, targets []string, result *Result) error {
	for _, repoID := range targets {
		repo, err := reg.Lookup(repoID)
		if err != nil {
			return err
		}

		_, scanErr := o.Scanner.Run(ctx, knowledge.ScanRequest{
			RepoID:   repoID,
			RepoPath: repo.WorktreePath(o.Config.ReposRoot),
			ScanPath: o.Layout.KnowledgeScanPath(repoID),
		})
		if scanErr != nil {
			return fmt.Errorf("scan %s: %w", repoID, scanErr)
		}

		result.Logs = append(result.Logs, "scanned "+repoID)
	}

	return nil
}

func (o *Orchestrator) runRefresh(ctx context.Context, reg *registry.Registry, result *Result) error {
	refreshResult, err := refresh.Run(ctx, refresh.Options{
		Layout:      o.Layout,
		Registry:    reg,
		ReposRoot:   o.Config.ReposRoot,
		Scanner:     o.Scanner,
		MaxEvents:   o.Limit,
		StopOnError: true,
	})
	if err != nil {
		return err
	}

	result.Logs = append(result.Logs,
		fmt.Sprintf("refresh consumed %d event(s), repos: %v", refreshResult.EventsConsumed, refreshResult.ImpactedRepos))

	if !refreshResult.OK {
		result.Logs = append(result.Logs, "refresh errors: "+fmt.Sprint(refreshResult.Errors))
	}

	return nil
}

// runFollowups runs the QA-merge consumer after the action; failures are
// logged, never fatal.
func (o *Orchestrator) runFollowups(ctx context.Context, result *Result) {
	followupResult, err := followup.Run(followup.Options{
		SegmentsDir: o.Layout.SegmentsDir(),
		Checkpoints: o.checkpoints(),
		InboxDir:    o.Layout.LaneBInboxDir(),
		MarkersDir:  o.Layout.QAFollowupsDir(),
		DryRun:      o.DryRun,
		MaxEvents:   o.Limit,
	})
	if err != nil {
		o.Logger.WarnContext(ctx, "qa follow-up run failed", "error", err)

		return
	}

	if len(followupResult.Created) > 0 {
		result.Logs = append(result.Logs,
			fmt.Sprintf("qa follow-ups created: %d", len(followupResult.Created)))
	}
}

// observeStaleness reconciles the soft-stale tracker, escalates overdue
// entries, and drops a refresh hint when the system is stale. Best-effort.
func (o *Orchestrator) observeStaleness(ctx context.Context, reg *registry.Registry, result *Result) {
	collector := staleness.NewCollector(o.Layout, reg, o.Config.ReposRoot, o.Config.Staleness.ScanWindow)

	snapshot, err := collector.Snapshot()
	if err != nil {
		o.Logger.WarnContext(ctx, "staleness observation failed", "error", err)

		return
	}

	escalator := staleness.NewEscalator(o.Layout, o.Config.SoftStale, o.Meetings)
	escalator.DryRun = o.DryRun

	created, escErr := escalator.Run(snapshot)
	if escErr != nil {
		o.Logger.WarnContext(ctx, "soft-stale escalation failed", "error", escErr)
	} else if len(created) > 0 {
		result.Logs = append(result.Logs,
			fmt.Sprintf("soft-stale escalations: %d", len(created)))
	}

	if snapshot.Stale && !o.DryRun {
		o.writeRefreshHint(ctx, snapshot)
	}
}
