package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v6"

	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// ScanRequest asks a scanner to (re)scan one repo or the next unscanned one.
type ScanRequest struct {
	RepoID   string
	RepoPath string
	ScanPath string
	DryRun   bool
}

// ScanResult reports one scanner run.
type ScanResult struct {
	RepoID    string
	HeadSHA   string
	ScanPath  string
	Performed bool
}

// Scanner produces per-repo knowledge scan artifacts. The default Recorder
// only records coverage; richer scanners (LLM-backed) satisfy the same
// interface.
type Scanner interface {
	Run(ctx context.Context, req ScanRequest) (*ScanResult, error)
}

// Recorder is the built-in scanner: it resolves the repo HEAD and writes the
// scan artifact marking the repo covered at that commit.
type Recorder struct {
	now func() time.Time
}

// NewRecorder returns a Recorder using wall-clock time.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Run resolves HEAD and writes the scan artifact for the repo.
func (r *Recorder) Run(_ context.Context, req ScanRequest) (*ScanResult, error) {
	repo, err := git.PlainOpen(req.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", req.RepoID, err)
	}

	head, headErr := repo.Head()
	if headErr != nil {
		return nil, fmt.Errorf("resolve head of %s: %w", req.RepoID, headErr)
	}

	result := &ScanResult{RepoID: req.RepoID, HeadSHA: head.Hash().String(), ScanPath: req.ScanPath}

	if req.DryRun {
		return result, nil
	}

	scan := &ScanArtifact{
		Version:          1,
		RepoID:           req.RepoID,
		ScannedAt:        stamp.ISO(r.now()),
		HeadSHA:          result.HeadSHA,
		CoverageComplete: true,
	}

	writeErr := WriteScan(req.ScanPath, scan)
	if writeErr != nil {
		return nil, writeErr
	}

	result.Performed = true

	return result, nil
}
