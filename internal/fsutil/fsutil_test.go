package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesParentAndLeavesNoTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "artifact.json")

	err := WriteFileAtomic(path, []byte("{}\n"))

	require.NoError(t, err)

	data, readErr := os.ReadFile(path)

	require.NoError(t, readErr)
	assert.Equal(t, "{}\n", string(data))

	entries, listErr := os.ReadDir(filepath.Dir(path))

	require.NoError(t, listErr)
	require.Len(t, entries, 1)
}

func TestWriteFileAtomic_FailureLeavesPriorArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.json")

	require.NoError(t, WriteFileAtomic(path, []byte("old\n")))

	// Make the directory read-only so the temp write fails.
	require.NoError(t, os.Chmod(dir, 0o555))

	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err := WriteFileAtomic(path, []byte("new\n"))

	require.Error(t, err)

	require.NoError(t, os.Chmod(dir, 0o755))

	data, readErr := os.ReadFile(path)

	require.NoError(t, readErr)
	assert.Equal(t, "old\n", string(data))
}

func TestMarshalCanonical_StableShape(t *testing.T) {
	t.Parallel()

	data, err := MarshalCanonical(map[string]any{"b": 1, "a": "x"})

	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"x\",\n  \"b\": 1\n}\n", string(data))

	again, err := MarshalCanonical(map[string]any{"a": "x", "b": 1})

	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestWriteJSONAtomic_ReadJSONRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")

	type payload struct {
		Version int    `json:"version"`
		Name    string `json:"name"`
	}

	require.NoError(t, WriteJSONAtomic(path, payload{Version: 1, Name: "lane-a"}))

	var got payload

	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, payload{Version: 1, Name: "lane-a"}, got)
}

func TestAppendLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segments", "events-20260101-00.jsonl")

	require.NoError(t, AppendLine(path, []byte(`{"event_id":"e1"}`)))
	require.NoError(t, AppendLine(path, []byte(`{"event_id":"e2"}`)))

	data, err := os.ReadFile(path)

	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "e1")
	assert.Contains(t, lines[1], "e2")
}

func TestTempPath_Unique(t *testing.T) {
	t.Parallel()

	a := TempPath("/x/y.json")
	b := TempPath("/x/y.json")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "/x/y.json.tmp."))
}

func TestPruneOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, name := range []string{"LOCK_STATUS-1.json", "LOCK_STATUS-2.json", "LOCK_STATUS-3.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	PruneOldest(dir, "LOCK_STATUS-*.json", 2)

	entries, err := os.ReadDir(dir)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "LOCK_STATUS-2.json", entries[0].Name())
	assert.Equal(t, "LOCK_STATUS-3.json", entries[1].Name())
}
