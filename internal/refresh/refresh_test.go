package refresh

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/gittest"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

func fixture(t *testing.T) (Options, *gittest.Repo) {
	t.Helper()

	reposRoot := t.TempDir()
	opsRoot := filepath.Join(reposRoot, "ops")
	lay := layout.New(opsRoot, filepath.Join(opsRoot, "knowledge"))

	repo := gittest.InitAt(t, filepath.Join(reposRoot, "billing-api"))
	repo.WriteFile("go.mod", "module example.com/billing\n\ngo 1.24\n")
	repo.WriteFile("main.go", "package main\n\nfunc main() {}\n")
	repo.Commit("initial")

	reg := &registry.Registry{Version: 1, Repos: []registry.Repo{
		{RepoID: "billing-api", Path: "billing-api", Status: registry.StatusActive},
	}}

	return Options{
		Layout:    lay,
		Registry:  reg,
		ReposRoot: reposRoot,
		Scanner:   knowledge.NewRecorder(),
	}, repo
}

func appendEvent(t *testing.T, lay *layout.Layout, eventID, repoID string, at time.Time) {
	t.Helper()

	ev := &eventlog.Event{
		EventID:   eventID,
		Timestamp: at.UTC().Format("2006-01-02T15:04:05.000Z"),
		Type:      eventlog.TypeMerge,
		Scope:     "repo:" + repoID,
		RepoID:    repoID,
		Summary:   "merge " + eventID,
	}

	if repoID == "" {
		ev.Scope = "system"
	}

	_, err := eventlog.Append(lay.SegmentsDir(), ev)
	require.NoError(t, err)
}

var t0 = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func TestRun_ColdStartConsumesEverything(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)
	appendEvent(t, opts.Layout, "evt-2", "billing-api", t0.Add(time.Minute))

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 2, result.EventsConsumed)
	assert.Equal(t, []string{"billing-api"}, result.ImpactedRepos)
	assert.True(t, result.CheckpointAdvanced)

	assert.FileExists(t, opts.Layout.RepoIndexPath("billing-api"))
	assert.FileExists(t, opts.Layout.RepoFingerprintsPath("billing-api"))
	assert.FileExists(t, opts.Layout.KnowledgeScanPath("billing-api"))
	assert.FileExists(t, opts.Layout.CommitteeStalePath("billing-api"))
	assert.FileExists(t, opts.Layout.IntegrationStalePath())
	assert.FileExists(t, result.ReportJSON)
	assert.FileExists(t, result.ReportMarkdown)

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())
	cp, cpErr := store.ReadEventID(Consumer)

	require.NoError(t, cpErr)
	require.NotNil(t, cp.LastProcessedEventID)
	assert.Equal(t, "evt-2", *cp.LastProcessedEventID)
	assert.Equal(t, "events-20260824-10.jsonl", *cp.LastProcessedSegment)
}

func TestRun_ResumesStrictlyAfterAnchor(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)

	first, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.EventsConsumed)

	second, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, second.EventsConsumed)
	assert.False(t, second.CheckpointAdvanced)

	appendEvent(t, opts.Layout, "evt-2", "billing-api", t0.Add(time.Minute))

	third, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, third.EventsConsumed)
}

func TestRun_DuplicateEventWarnsOnce(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)
	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0.Add(time.Minute))

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.EventsConsumed)
	assert.Equal(t, []string{"evt-1"}, result.Duplicates)
}

func TestRun_MissingAnchorSegmentIsFatal(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	segment := "events-20260801-00.jsonl"
	eventID := "gone"

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())
	require.NoError(t, store.WriteEventID(Consumer, &segment, &eventID))

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)

	_, err := Run(context.Background(), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, eventlog.ErrAnchorSegmentNotFound)
}

func TestRun_MissingAnchorEventIsFatal(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)

	segment := "events-20260824-10.jsonl"
	eventID := "never-appended"

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())
	require.NoError(t, store.WriteEventID(Consumer, &segment, &eventID))

	_, err := Run(context.Background(), opts)

	assert.ErrorIs(t, err, ErrAnchorEventNotFound)
}

func TestRun_UnknownRepoRecordedInReport(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)
	opts.StopOnError = false

	appendEvent(t, opts.Layout, "evt-1", "ghost-repo", t0)

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ghost-repo")
	// stopOnError=false permits partial progress.
	assert.True(t, result.CheckpointAdvanced)
	assert.FileExists(t, result.ReportJSON)
}

func TestRun_StopOnErrorHoldsCheckpoint(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)
	opts.StopOnError = true

	appendEvent(t, opts.Layout, "evt-1", "ghost-repo", t0)

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.False(t, result.CheckpointAdvanced)

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())
	cp, cpErr := store.ReadEventID(Consumer)

	require.NoError(t, cpErr)
	assert.Nil(t, cp.LastProcessedSegment)
}

func TestRun_MaxEventsCapsTheBatch(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)
	opts.MaxEvents = 1

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)
	appendEvent(t, opts.Layout, "evt-2", "billing-api", t0.Add(time.Minute))

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsConsumed)

	store := checkpoint.NewStore(opts.Layout.CheckpointsDir())
	cp, cpErr := store.ReadEventID(Consumer)

	require.NoError(t, cpErr)
	assert.Equal(t, "evt-1", *cp.LastProcessedEventID)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)
	opts.DryRun = true

	appendEvent(t, opts.Layout, "evt-1", "billing-api", t0)

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.EventsConsumed)
	assert.False(t, result.CheckpointAdvanced)
	assert.NoFileExists(t, opts.Layout.RepoIndexPath("billing-api"))
	assert.NoFileExists(t, opts.Layout.IntegrationStalePath())
	assert.NoFileExists(t, opts.Layout.EventsSummaryPath())
}

func TestRun_SystemScopeEventTouchesNoRepo(t *testing.T) {
	t.Parallel()

	opts, _ := fixture(t)

	appendEvent(t, opts.Layout, "evt-1", "", t0)

	result, err := Run(context.Background(), opts)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, result.ImpactedRepos)
	assert.NoFileExists(t, opts.Layout.IntegrationStalePath())
	assert.True(t, result.CheckpointAdvanced)
}
