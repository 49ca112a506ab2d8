package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/lanekeeper/internal/config"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/gittest"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/lock"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *gittest.Repo) {
	t.Helper()

	reposRoot := t.TempDir()
	opsRoot := filepath.Join(reposRoot, "ops")

	cfg := &config.Config{
		OpsRoot:          opsRoot,
		ReposRoot:        reposRoot,
		KnowledgeRepoDir: filepath.Join(opsRoot, "knowledge"),
		LockTTL:          config.DefaultLockTTL,
		GitTimeout:       config.DefaultGitTimeout,
		SoftStale: config.SoftStale{
			BannerEnabled:     true,
			EscalateAfter:     config.DefaultEscalateAfter,
			EscalateMode:      config.EscalateUpdateMeeting,
			EscalateCapPerDay: config.DefaultEscalateCapPerDay,
		},
		Staleness: config.Staleness{ScanWindow: config.DefaultScanWindow},
	}

	o := New(cfg, slog.New(slog.DiscardHandler))

	repo := gittest.InitAt(t, filepath.Join(reposRoot, "billing-api"))
	repo.WriteFile("go.mod", "module example.com/billing\n\ngo 1.24\n")
	repo.WriteFile("main.go", "package main\n\nfunc main() {}\n")
	repo.WriteFile("cmd/api/main.go", "package main\n\nfunc main() {}\n")
	repo.WriteFile("cmd/worker/main.go", "package main\n\nfunc main() {}\n")
	repo.Commit("initial")

	reg := registry.Registry{Version: 1, Repos: []registry.Repo{
		{RepoID: "billing-api", Path: "billing-api", Status: registry.StatusActive},
	}}

	require.NoError(t, fsutil.WriteJSONAtomic(o.Layout.RegistryPath(), reg))

	return o, repo
}

func TestOrchestrate_ColdStartIndexes(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	result, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, StageNeedsIndex, result.Stage)
	assert.Equal(t, ActionIndex, result.NextAction.Type)
	assert.Equal(t, []string{"billing-api"}, result.NextAction.TargetRepos)
	assert.Equal(t, LevelNone, result.EvidenceState.EvidenceLevel)

	// The index action executed.
	assert.FileExists(t, o.Layout.RepoIndexPath("billing-api"))
	assert.FileExists(t, o.Layout.RepoFingerprintsPath("billing-api"))

	// State artifacts persisted.
	assert.FileExists(t, o.Layout.StatePath())
	assert.FileExists(t, o.Layout.StateMarkdownPath())
	assert.FileExists(t, o.Layout.NextActionHintPath())
	assert.NoFileExists(t, o.Layout.StateErrorPath())

	var state LaneState

	require.NoError(t, fsutil.ReadJSON(o.Layout.StatePath(), &state))
	assert.Equal(t, StageNeedsIndex, state.Stage)
	assert.Equal(t, 1, state.Version)
}

func TestOrchestrate_ProgressesToScanThenCommittee(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	first, err := o.Orchestrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StageNeedsIndex, first.Stage)

	second, err := o.Orchestrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageNeedsScan, second.Stage)
	assert.FileExists(t, o.Layout.KnowledgeScanPath("billing-api"))

	third, err := o.Orchestrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LevelComplete, third.EvidenceState.EvidenceLevel)
	assert.Equal(t, StageCommitteePending, third.Stage)
}

func TestOrchestrate_LockHeldSkips(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	mgr := lock.NewManager(o.Layout.LockPath(), layout.LockName, time.Hour, "", o.Config.OpsRoot)
	acq, err := mgr.Acquire()
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	result, orchErr := o.Orchestrate(context.Background())

	require.NoError(t, orchErr)
	assert.True(t, result.OK)
	assert.True(t, result.Skipped)
	assert.Equal(t, ReasonLockHeld, result.Reason)
	assert.NoFileExists(t, o.Layout.StatePath())

	// The loser still recorded a snapshot under the published name shape.
	entries, globErr := filepath.Glob(filepath.Join(o.Layout.LockStatusDir(), "LOCK_STATUS-*.json"))
	require.NoError(t, globErr)
	require.Len(t, entries, 1)

	var snap struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}

	require.NoError(t, fsutil.ReadJSON(entries[0], &snap))
	assert.Equal(t, ReasonLockHeld, snap.Status)
	assert.Equal(t, ReasonLockHeld, snap.Reason)
}

func TestOrchestrate_StaleSystemWritesRefreshHint(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	// First tick indexes; the repo has never been scanned, so the system
	// observes as stale and a hint is dropped.
	_, err := o.Orchestrate(context.Background())
	require.NoError(t, err)

	entries, globErr := filepath.Glob(filepath.Join(o.Layout.RefreshHintsDir(), "RH-*__system.json"))
	require.NoError(t, globErr)
	require.Len(t, entries, 1)

	var hint struct {
		Scope      string   `json:"scope"`
		StaleRepos []string `json:"stale_repos"`
	}

	require.NoError(t, fsutil.ReadJSON(entries[0], &hint))
	assert.Equal(t, "system", hint.Scope)
	assert.Equal(t, []string{"billing-api"}, hint.StaleRepos)
}

func TestOrchestrate_ReleasesLock(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	_, err := o.Orchestrate(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, o.Layout.LockPath())
}

func TestOrchestrate_OpenDecisionBlocks(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	packet := knowledge.DecisionPacket{Version: 1, DecisionID: "DP-7", Status: knowledge.DecisionOpen}
	require.NoError(t, fsutil.WriteJSONAtomic(
		filepath.Join(o.Layout.DecisionPacketsDir(), "dp-7.json"), packet))

	result, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StageDecisionNeeded, result.Stage)
	assert.Equal(t, ActionQuestion, result.NextAction.Type)
	// No index ran while blocked.
	assert.NoFileExists(t, o.Layout.RepoIndexPath("billing-api"))
}

func TestOrchestrate_DecisionAnsweredResumes(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	packetPath := filepath.Join(o.Layout.DecisionPacketsDir(), "dp-7.json")
	packet := knowledge.DecisionPacket{Version: 1, DecisionID: "DP-7", Status: knowledge.DecisionOpen}
	require.NoError(t, fsutil.WriteJSONAtomic(packetPath, packet))

	first, err := o.Orchestrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StageDecisionNeeded, first.Stage)

	packet.Status = knowledge.DecisionAnswered
	require.NoError(t, fsutil.WriteJSONAtomic(packetPath, packet))

	second, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StageDecisionAnswered, second.Stage)
	assert.Equal(t, ActionIndex, second.NextAction.Type)
	assert.Contains(t, second.NextAction.Reason, "decision answered")
}

func TestOrchestrate_FailureWritesErrorArtifact(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	// Corrupt the registry so the tick fails.
	require.NoError(t, fsutil.WriteFileAtomic(o.Layout.RegistryPath(), []byte("{")))

	result, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Message)
	assert.FileExists(t, o.Layout.StateErrorPath())
	assert.NoFileExists(t, o.Layout.LockPath())
}

func TestOrchestrate_SuccessClearsErrorArtifact(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	persistError(o.Layout, time.Now(), "previous failure", "")
	require.FileExists(t, o.Layout.StateErrorPath())

	_, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.NoFileExists(t, o.Layout.StateErrorPath())
}

func TestOrchestrate_DryRunWritesOnlyStateArtifacts(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)
	o.DryRun = true

	result, err := o.Orchestrate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StageNeedsIndex, result.Stage)
	assert.FileExists(t, o.Layout.StatePath())
	assert.NoFileExists(t, o.Layout.RepoIndexPath("billing-api"))
}

func TestOrchestrate_RunsFollowupsAfterAction(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	_, err := eventlog.Append(o.Layout.SegmentsDir(), &eventlog.Event{
		EventID:      "evt-qa",
		Timestamp:    "2026-08-24T09:00:00.000Z",
		Type:         eventlog.TypeMerge,
		Scope:        "repo:billing-api",
		RepoID:       "billing-api",
		Obligations:  map[string]any{"must_add_e2e": true},
		ChangedPaths: []string{"src/api.ts"},
	})
	require.NoError(t, err)

	result, orchErr := o.Orchestrate(context.Background())

	require.NoError(t, orchErr)
	assert.True(t, result.OK)

	intakes, globErr := filepath.Glob(filepath.Join(o.Layout.LaneBInboxDir(), "QA-FOLLOWUP-*.md"))
	require.NoError(t, globErr)
	assert.Len(t, intakes, 1)
	assert.FileExists(t, filepath.Join(o.Layout.QAFollowupsDir(), "evt-qa.json"))
}

func TestOrchestrate_StateMarkdownRendered(t *testing.T) {
	t.Parallel()

	o, _ := testOrchestrator(t)

	_, err := o.Orchestrate(context.Background())
	require.NoError(t, err)

	raw, readErr := os.ReadFile(o.Layout.StateMarkdownPath())
	require.NoError(t, readErr)

	content := string(raw)

	assert.Contains(t, content, "---\n")
	assert.Contains(t, content, "stage: NEEDS_INDEX")
	assert.Contains(t, content, "# Lane A state")
}
