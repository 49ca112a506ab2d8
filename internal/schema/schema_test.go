package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() map[string]any {
	return map[string]any{
		"event_id":  "evt-001",
		"timestamp": "2026-01-01T00:00:00.000Z",
		"type":      "merge",
		"scope":     "repo:billing-api",
		"repo_id":   "billing-api",
	}
}

func TestValidate_Event(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(KnowledgeChangeEvent, validEvent()))
}

func TestValidate_EventUnknownTopLevelKey(t *testing.T) {
	t.Parallel()

	doc := validEvent()
	doc["surprise"] = true

	err := Validate(KnowledgeChangeEvent, doc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "knowledge_change_event")
}

func TestValidate_EventMissingRequired(t *testing.T) {
	t.Parallel()

	doc := validEvent()
	delete(doc, "event_id")

	assert.Error(t, Validate(KnowledgeChangeEvent, doc))
}

func TestValidate_CheckpointOffset(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"version":           1,
		"consumer":          "qa-merge-followups",
		"last_read_segment": "events-20260101-00.jsonl",
		"last_read_offset":  0,
		"updated_at":        "2026-01-01T00:00:00.000Z",
	}

	require.NoError(t, Validate(CheckpointOffset, doc))

	doc["last_read_offset"] = -1

	assert.Error(t, Validate(CheckpointOffset, doc))

	doc["last_read_offset"] = 0
	doc["consumer"] = "Bad Name"

	assert.Error(t, Validate(CheckpointOffset, doc))
}

func TestValidate_LockRecordTokenPattern(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"version": 1, "lock_name": "lane-a-orchestrate",
		"created_at": "2026-01-01T00:00:00.000Z", "expires_at": "2026-01-01T00:08:00.000Z",
		"pid": 42, "uid": 1000, "user": "ci", "host": "worker-1", "cwd": "/work",
		"command": "lanekeeper orchestrate", "project_root": "/work",
		"ai_project_root": "/work/ops",
		"owner_token":     "0123456789abcdef0123456789abcdef",
	}

	require.NoError(t, Validate(LockRecord, doc))

	doc["owner_token"] = "short"

	assert.Error(t, Validate(LockRecord, doc))
}

func TestValidate_DecisionPacketAllowsExtraKeys(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"version": 1, "decision_id": "DP-1", "status": "open",
		"question": "which branch is canonical?",
	}

	require.NoError(t, Validate(DecisionPacket, doc))

	doc["status"] = "pondering"

	assert.Error(t, Validate(DecisionPacket, doc))
}

func TestValidateBytes_Invalid(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateBytes(KnowledgeChangeEvent, []byte(`{"event_id":""}`)))
}

func TestValidate_UnknownSchemaName(t *testing.T) {
	t.Parallel()

	assert.Error(t, Validate("no_such_schema", map[string]any{}))
}
