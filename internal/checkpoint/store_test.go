package checkpoint

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOffset_DefaultWhenAbsent(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	record, err := store.ReadOffset("qa-merge-followups")

	require.NoError(t, err)
	assert.Nil(t, record.LastReadSegment)
	assert.Equal(t, 0, record.LastReadOffset)
	assert.Equal(t, Version, record.Version)
}

func TestWriteOffset_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	segment := "events-20260101-00.jsonl"

	require.NoError(t, store.WriteOffset("qa-merge-followups", &segment, 7))

	record, err := store.ReadOffset("qa-merge-followups")

	require.NoError(t, err)
	require.NotNil(t, record.LastReadSegment)
	assert.Equal(t, segment, *record.LastReadSegment)
	assert.Equal(t, 7, record.LastReadOffset)
	assert.NotEmpty(t, record.UpdatedAt)
}

func TestWriteOffset_Validation(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	segment := "events-20260101-00.jsonl"

	assert.ErrorIs(t, store.WriteOffset("c", &segment, -1), ErrBadOffset)
	assert.ErrorIs(t, store.WriteOffset("c", nil, 3), ErrBadOffset)
	assert.ErrorIs(t, store.WriteOffset("Bad Name", &segment, 0), ErrBadConsumerName)
	assert.NoError(t, store.WriteOffset("c", nil, 0))
}

func TestWriteOffset_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	store.DryRun = true

	segment := "events-20260101-00.jsonl"

	require.NoError(t, store.WriteOffset("qa-merge-followups", &segment, 1))

	_, err := os.Stat(store.Path("qa-merge-followups"))

	assert.True(t, os.IsNotExist(err))
}

func TestEventID_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	record, err := store.ReadEventID("last-refresh")

	require.NoError(t, err)
	assert.Nil(t, record.LastProcessedSegment)
	assert.Nil(t, record.LastProcessedEventID)

	segment := "events-20260101-02.jsonl"
	eventID := "evt-42"

	require.NoError(t, store.WriteEventID("last-refresh", &segment, &eventID))

	record, err = store.ReadEventID("last-refresh")

	require.NoError(t, err)
	require.NotNil(t, record.LastProcessedSegment)
	assert.Equal(t, segment, *record.LastProcessedSegment)
	require.NotNil(t, record.LastProcessedEventID)
	assert.Equal(t, eventID, *record.LastProcessedEventID)
}

func TestWriteEventID_MixedNilRejected(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	segment := "events-20260101-02.jsonl"

	assert.ErrorIs(t, store.WriteEventID("last-refresh", &segment, nil), ErrBadOffset)
}

func TestReadOffset_CorruptRecord(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	require.NoError(t, os.WriteFile(store.Path("c"), []byte(`{"version":2}`), 0o644))

	_, err := store.ReadOffset("c")

	assert.Error(t, err)
}
