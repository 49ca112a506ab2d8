package refresh

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
)

func summaryFixture(t *testing.T) *layout.Layout {
	t.Helper()

	root := t.TempDir()

	return layout.New(root, filepath.Join(root, "knowledge"))
}

func TestUpdateSummary_Aggregates(t *testing.T) {
	t.Parallel()

	lay := summaryFixture(t)

	appendEvent(t, lay, "evt-1", "billing-api", t0)
	appendEvent(t, lay, "evt-2", "billing-api", t0.Add(time.Minute))
	appendEvent(t, lay, "evt-3", "", t0.Add(2*time.Minute))

	updated, err := UpdateSummary(lay)

	require.NoError(t, err)
	assert.True(t, updated)

	var summary Summary

	require.NoError(t, fsutil.ReadJSON(lay.EventsSummaryPath(), &summary))
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, 3, summary.CountsByType["merge"])
	assert.Equal(t, 2, summary.CountsByScope["repo:billing-api"])
	assert.Equal(t, 1, summary.CountsByScope["system"])
	assert.Equal(t, 2, summary.CountsByRepo["billing-api"])
	require.Len(t, summary.LastEvents, 3)
	assert.Equal(t, "evt-1", summary.LastEvents[0].EventID)
	assert.Equal(t, "evt-3", summary.LastEvents[2].EventID)
	assert.Len(t, summary.SourceHash, 64)
}

func TestUpdateSummary_SkipsWhenUnchanged(t *testing.T) {
	t.Parallel()

	lay := summaryFixture(t)

	appendEvent(t, lay, "evt-1", "billing-api", t0)

	first, err := UpdateSummary(lay)
	require.NoError(t, err)
	require.True(t, first)

	second, err := UpdateSummary(lay)
	require.NoError(t, err)
	assert.False(t, second)

	appendEvent(t, lay, "evt-2", "billing-api", t0.Add(time.Minute))

	third, err := UpdateSummary(lay)
	require.NoError(t, err)
	assert.True(t, third)
}

func TestUpdateSummary_TailCapped(t *testing.T) {
	t.Parallel()

	lay := summaryFixture(t)

	for i := 0; i < summaryTail+10; i++ {
		appendEvent(t, lay, fmtEventID(i), "billing-api", t0.Add(time.Duration(i)*time.Second))
	}

	updated, err := UpdateSummary(lay)

	require.NoError(t, err)
	require.True(t, updated)

	var summary Summary

	require.NoError(t, fsutil.ReadJSON(lay.EventsSummaryPath(), &summary))
	assert.Equal(t, summaryTail+10, summary.TotalEvents)
	assert.Len(t, summary.LastEvents, summaryTail)
	assert.Equal(t, fmtEventID(summaryTail+9), summary.LastEvents[summaryTail-1].EventID)
}

func fmtEventID(i int) string {
	return "evt-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
