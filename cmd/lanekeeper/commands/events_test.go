package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/followup"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/refresh"
)

// testEnv points the loader at a temp ops root and returns its layout.
func testEnv(t *testing.T) *layout.Layout {
	t.Helper()

	root := t.TempDir()
	ops := filepath.Join(root, "ops")

	t.Setenv("AI_PROJECT_ROOT", ops)
	t.Setenv("REPOS_ROOT", root)

	return layout.New(ops, filepath.Join(ops, "knowledge"))
}

func TestEventsAppend(t *testing.T) {
	lay := testEnv(t)

	cmd := NewEventsCommand()
	cmd.SetArgs([]string{
		"append", "--repo", "billing-api", "--summary", "merged payment retries", "--must-add-e2e",
	})

	var out bytes.Buffer

	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	segments, err := eventlog.ListSegments(lay.SegmentsDir())
	require.NoError(t, err)
	require.Len(t, segments, 1)

	raw, readErr := os.ReadFile(filepath.Join(lay.SegmentsDir(), segments[0]))
	require.NoError(t, readErr)

	line := strings.TrimSpace(string(raw))

	ev, parseErr := eventlog.ParseLine([]byte(line))
	require.NoError(t, parseErr)

	assert.Equal(t, "repo:billing-api", ev.Scope)
	assert.Equal(t, eventlog.TypeMerge, ev.Type)
	assert.Equal(t, true, ev.Obligations["must_add_e2e"])
	assert.Contains(t, out.String(), segments[0])
}

func TestEventsAppend_SystemScope(t *testing.T) {
	lay := testEnv(t)

	cmd := NewEventsCommand()
	cmd.SetArgs([]string{"append", "--type", "scan", "--summary", "full rescan"})
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())

	segments, err := eventlog.ListSegments(lay.SegmentsDir())
	require.NoError(t, err)
	require.Len(t, segments, 1)

	raw, readErr := os.ReadFile(filepath.Join(lay.SegmentsDir(), segments[0]))
	require.NoError(t, readErr)

	ev, parseErr := eventlog.ParseLine([]byte(strings.TrimSpace(string(raw))))
	require.NoError(t, parseErr)

	assert.Equal(t, "system", ev.Scope)
}

func TestEventsCompact_RequiresCheckpoints(t *testing.T) {
	testEnv(t)

	cmd := NewEventsCommand()
	cmd.SetArgs([]string{"compact"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	require.ErrorIs(t, err, ErrNoCheckpoints)
}

func TestEventsCompact_KeepsAnchorSegment(t *testing.T) {
	lay := testEnv(t)

	old := &eventlog.Event{
		EventID:   "evt-old",
		Timestamp: "2026-08-23T10:00:00.000Z",
		Type:      eventlog.TypeMerge,
		Scope:     "system",
	}
	current := &eventlog.Event{
		EventID:   "evt-new",
		Timestamp: "2026-08-24T10:00:00.000Z",
		Type:      eventlog.TypeMerge,
		Scope:     "system",
	}

	_, err := eventlog.Append(lay.SegmentsDir(), old)
	require.NoError(t, err)

	newSegment, appendErr := eventlog.Append(lay.SegmentsDir(), current)
	require.NoError(t, appendErr)

	store := checkpoint.NewStore(lay.CheckpointsDir())
	eventID := "evt-new"

	require.NoError(t, store.WriteEventID(refresh.Consumer, &newSegment, &eventID))
	require.NoError(t, store.WriteOffset(followup.Consumer, &newSegment, 0))

	var out bytes.Buffer

	cmd := NewEventsCommand()
	cmd.SetArgs([]string{"compact"})
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	// The old segment is archived; the anchor segment survives.
	segments, listErr := eventlog.ListSegments(lay.SegmentsDir())
	require.NoError(t, listErr)
	assert.Equal(t, []string{newSegment}, segments)

	assert.FileExists(t, filepath.Join(lay.SegmentArchiveDir(), "events-20260823-10.jsonl.lz4"))
	assert.Contains(t, out.String(), "events-20260823-10.jsonl")
}
