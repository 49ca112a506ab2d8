package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the project config file name without extension.
const configName = ".lanekeeper"

// configType is the config file format.
const configType = "yaml"

// millisecond count guard: LANE_A_LOCK_TTL_MS of zero or below falls back
// to the default TTL rather than disabling the lock.
const minLockTTLMillis = 1

// Environment variable names consumed by the loader.
const (
	envProjectRoot      = "AI_PROJECT_ROOT"
	envReposRoot        = "REPOS_ROOT"
	envKnowledgeRepoDir = "KNOWLEDGE_REPO_DIR"
	envLockTTLMillis    = "LANE_A_LOCK_TTL_MS"
	envBanner           = "LANE_A_SOFT_STALE_BANNER"
	envEscalateAfterMin = "LANE_A_SOFT_STALE_ESCALATE_AFTER_MINUTES"
	envEscalateMode     = "LANE_A_SOFT_STALE_ESCALATE_MODE"
	envEscalateCap      = "LANE_A_SOFT_STALE_ESCALATE_CAP_PER_DAY"
)

// Load resolves configuration in precedence order: explicit environment,
// .env file in the working directory, .lanekeeper.yaml (CWD then $HOME),
// then built-in defaults. A missing config file is not an error.
func Load() (*Config, error) {
	// Best-effort: a missing .env file is the common case.
	_ = godotenv.Load()

	v := viper.New()

	applyDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	bindEnv(v)

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	cfg := &Config{
		OpsRoot:          strings.TrimSpace(v.GetString("project_root")),
		ReposRoot:        strings.TrimSpace(v.GetString("repos_root")),
		KnowledgeRepoDir: strings.TrimSpace(v.GetString("knowledge_repo_dir")),
		LockTTL:          lockTTL(v.GetInt64("lock_ttl_ms")),
		GitTimeout:       DefaultGitTimeout,
		SoftStale: SoftStale{
			BannerEnabled:     v.GetBool("soft_stale.banner_enabled"),
			EscalateAfter:     time.Duration(v.GetInt("soft_stale.escalate_after_minutes")) * time.Minute,
			EscalateMode:      v.GetString("soft_stale.escalate_mode"),
			EscalateCapPerDay: v.GetInt("soft_stale.escalate_cap_per_day"),
		},
		Staleness: Staleness{
			ScanWindow: time.Duration(v.GetInt("staleness.scan_window_hours")) * time.Hour,
		},
	}

	if cfg.ReposRoot == "" && cfg.OpsRoot != "" {
		cfg.ReposRoot = filepath.Dir(cfg.OpsRoot)
	}

	if cfg.KnowledgeRepoDir == "" && cfg.OpsRoot != "" {
		cfg.KnowledgeRepoDir = filepath.Join(cfg.OpsRoot, "knowledge")
	}

	if cfg.SoftStale.EscalateAfter <= 0 {
		cfg.SoftStale.EscalateAfter = DefaultEscalateAfter
	}

	if cfg.Staleness.ScanWindow <= 0 {
		cfg.Staleness.ScanWindow = DefaultScanWindow
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("soft_stale.banner_enabled", true)
	v.SetDefault("soft_stale.escalate_after_minutes", int(DefaultEscalateAfter/time.Minute))
	v.SetDefault("soft_stale.escalate_mode", EscalateUpdateMeeting)
	v.SetDefault("soft_stale.escalate_cap_per_day", DefaultEscalateCapPerDay)
	v.SetDefault("staleness.scan_window_hours", int(DefaultScanWindow/time.Hour))
	v.SetDefault("lock_ttl_ms", int64(DefaultLockTTL/time.Millisecond))
}

// bindEnv maps the published environment variables onto config keys. The
// names are part of the operator contract, so they are bound explicitly
// rather than through a prefix replacer.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("project_root", envProjectRoot)
	_ = v.BindEnv("repos_root", envReposRoot)
	_ = v.BindEnv("knowledge_repo_dir", envKnowledgeRepoDir)
	_ = v.BindEnv("lock_ttl_ms", envLockTTLMillis)
	_ = v.BindEnv("soft_stale.banner_enabled", envBanner)
	_ = v.BindEnv("soft_stale.escalate_after_minutes", envEscalateAfterMin)
	_ = v.BindEnv("soft_stale.escalate_mode", envEscalateMode)
	_ = v.BindEnv("soft_stale.escalate_cap_per_day", envEscalateCap)
}

func lockTTL(millis int64) time.Duration {
	if millis < minLockTTLMillis {
		return DefaultLockTTL
	}

	return time.Duration(millis) * time.Millisecond
}
