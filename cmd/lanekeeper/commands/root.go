// Package commands implements the lanekeeper subcommands.
package commands

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Sumatoshi-tech/lanekeeper/internal/config"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/observability"
)

// serviceName is attached to every log record.
const serviceName = "lanekeeper"

// Global flags bound by main.
var (
	Verbose  bool
	Quiet    bool
	JSONLogs bool
)

// setup loads configuration and builds the process logger and layout.
func setup() (*config.Config, *layout.Layout, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := observability.NewLogger(observability.Options{
		Level:   logLevel(),
		JSON:    JSONLogs,
		Service: serviceName,
	})

	return cfg, layout.New(cfg.OpsRoot, cfg.KnowledgeRepoDir), logger, nil
}

func logLevel() string {
	switch {
	case Quiet:
		return "error"
	case Verbose:
		return "debug"
	default:
		return "info"
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}

func randHex(n int) (string, error) {
	buf := make([]byte, n)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
