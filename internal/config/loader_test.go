package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	t.Setenv("AI_PROJECT_ROOT", root)
	t.Setenv("REPOS_ROOT", "")
	t.Setenv("KNOWLEDGE_REPO_DIR", "")
	t.Setenv("LANE_A_LOCK_TTL_MS", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, root, cfg.OpsRoot)
	assert.Equal(t, filepath.Dir(root), cfg.ReposRoot)
	assert.Equal(t, filepath.Join(root, "knowledge"), cfg.KnowledgeRepoDir)
	assert.Equal(t, DefaultLockTTL, cfg.LockTTL)
	assert.True(t, cfg.SoftStale.BannerEnabled)
	assert.Equal(t, EscalateUpdateMeeting, cfg.SoftStale.EscalateMode)
	assert.Equal(t, DefaultEscalateCapPerDay, cfg.SoftStale.EscalateCapPerDay)
	assert.Equal(t, DefaultScanWindow, cfg.Staleness.ScanWindow)
}

func TestLoad_MissingProjectRoot(t *testing.T) {
	t.Setenv("AI_PROJECT_ROOT", "")

	_, err := Load()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProjectRootUnset)
}

func TestLoad_RelativeProjectRoot(t *testing.T) {
	t.Setenv("AI_PROJECT_ROOT", "relative/ops")

	_, err := Load()

	assert.ErrorIs(t, err, ErrProjectRootRelative)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	repos := t.TempDir()

	t.Setenv("AI_PROJECT_ROOT", root)
	t.Setenv("REPOS_ROOT", repos)
	t.Setenv("LANE_A_LOCK_TTL_MS", "60000")
	t.Setenv("LANE_A_SOFT_STALE_ESCALATE_MODE", "decision_packet")
	t.Setenv("LANE_A_SOFT_STALE_ESCALATE_AFTER_MINUTES", "30")
	t.Setenv("LANE_A_SOFT_STALE_ESCALATE_CAP_PER_DAY", "1")
	t.Setenv("LANE_A_SOFT_STALE_BANNER", "false")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, repos, cfg.ReposRoot)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.Equal(t, EscalateDecisionPacket, cfg.SoftStale.EscalateMode)
	assert.Equal(t, 30*time.Minute, cfg.SoftStale.EscalateAfter)
	assert.Equal(t, 1, cfg.SoftStale.EscalateCapPerDay)
	assert.False(t, cfg.SoftStale.BannerEnabled)
}

func TestLoad_NonPositiveTTLFallsBack(t *testing.T) {
	t.Setenv("AI_PROJECT_ROOT", t.TempDir())
	t.Setenv("LANE_A_LOCK_TTL_MS", "-5")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, DefaultLockTTL, cfg.LockTTL)
}

func TestLoad_BadEscalateMode(t *testing.T) {
	t.Setenv("AI_PROJECT_ROOT", t.TempDir())
	t.Setenv("LANE_A_SOFT_STALE_ESCALATE_MODE", "page-everyone")

	_, err := Load()

	assert.ErrorIs(t, err, ErrBadEscalateMode)
}
