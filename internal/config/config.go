// Package config loads lanekeeper configuration from the environment, an
// optional .env file, and an optional .lanekeeper.yaml project file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Escalation modes for soft-stale repos.
const (
	EscalateUpdateMeeting  = "update_meeting"
	EscalateDecisionPacket = "decision_packet"
)

// Defaults for tunable knobs.
const (
	DefaultLockTTL           = 8 * time.Minute
	DefaultEscalateAfter     = 180 * time.Minute
	DefaultEscalateCapPerDay = 3
	DefaultScanWindow        = 7 * 24 * time.Hour
	DefaultGitTimeout        = 30 * time.Second
)

// Sentinel errors for configuration validation.
var (
	ErrProjectRootUnset    = errors.New("AI_PROJECT_ROOT is not set")
	ErrProjectRootRelative = errors.New("AI_PROJECT_ROOT must be absolute")
	ErrBadEscalateMode     = errors.New("invalid soft-stale escalate mode")
)

// SoftStale holds the soft-stale escalation policy knobs.
type SoftStale struct {
	BannerEnabled     bool
	EscalateAfter     time.Duration
	EscalateMode      string
	EscalateCapPerDay int
}

// Staleness holds the repo staleness policy knobs. ScanWindow is the maximum
// age of a knowledge scan before the repo counts as stale.
type Staleness struct {
	ScanWindow time.Duration
}

// Config is the resolved lanekeeper configuration.
type Config struct {
	// OpsRoot is the absolute operational state root (AI_PROJECT_ROOT).
	OpsRoot string
	// ReposRoot is the directory holding working trees of registered repos.
	// Defaults to the parent of OpsRoot.
	ReposRoot string
	// KnowledgeRepoDir is the per-project knowledge repo root. Defaults to
	// OpsRoot/knowledge.
	KnowledgeRepoDir string

	LockTTL    time.Duration
	GitTimeout time.Duration
	SoftStale  SoftStale
	Staleness  Staleness
}

// Validate checks invariants that loading cannot express.
func (c *Config) Validate() error {
	if c.OpsRoot == "" {
		return ErrProjectRootUnset
	}

	if !filepath.IsAbs(c.OpsRoot) {
		return fmt.Errorf("%w: %q", ErrProjectRootRelative, c.OpsRoot)
	}

	if c.SoftStale.EscalateMode != EscalateUpdateMeeting &&
		c.SoftStale.EscalateMode != EscalateDecisionPacket {
		return fmt.Errorf("%w: %q", ErrBadEscalateMode, c.SoftStale.EscalateMode)
	}

	return nil
}
