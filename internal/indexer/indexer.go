// Package indexer produces the deterministic per-repo index and fingerprint
// artifacts from a specific git reference. It reads the git object store
// only; the working tree is never touched or modified.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/observability"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Fingerprint categories.
const (
	CategorySource      = "source"
	CategoryAPIContract = "api_contract"
	CategorySchema      = "schema"
	CategoryMigration   = "migration"
	CategoryManifest    = "manifest"
)

// Sentinel errors.
var (
	ErrNotGitRepo            = errors.New("not a git repository")
	ErrNoFingerprintableFile = errors.New("no fingerprintable files")
	ErrUnsafePath            = errors.New("unsafe tree path")
	ErrInconsistent          = errors.New("fingerprint consistency violation")
)

// FileDigest is the per-path fingerprint inside the repo index.
type FileDigest struct {
	SHA256 string `json:"sha256"`
}

// BuildCommands describes how the repo is built, with evidence files.
type BuildCommands struct {
	Install  string   `json:"install,omitempty"`
	Lint     string   `json:"lint,omitempty"`
	Test     string   `json:"test,omitempty"`
	Build    string   `json:"build,omitempty"`
	Evidence []string `json:"evidence"`
}

// APISurface lists detected API definition files.
type APISurface struct {
	OpenAPI     []string `json:"openapi"`
	Routes      []string `json:"routes"`
	EventTopics []string `json:"event_topics"`
}

// CrossRepoDependency is a detected dependency on another registered repo
// or an external build URL.
type CrossRepoDependency struct {
	Target   string   `json:"target"`
	Type     string   `json:"type"`
	Evidence []string `json:"evidence"`
}

// RepoIndex is the per-repo index artifact, captured at a specific commit.
type RepoIndex struct {
	RepoID                string                `json:"repo_id"`
	HeadSHA               string                `json:"head_sha"`
	ScannedAt             string                `json:"scanned_at"`
	Languages             []string              `json:"languages"`
	Entrypoints           []string              `json:"entrypoints"`
	BuildCommands         BuildCommands         `json:"build_commands"`
	APISurface            APISurface            `json:"api_surface"`
	MigrationsSchema      []string              `json:"migrations_schema"`
	CrossRepoDependencies []CrossRepoDependency `json:"cross_repo_dependencies"`
	Hotspots              []string              `json:"hotspots"`
	Fingerprints          map[string]FileDigest `json:"fingerprints"`
}

// FingerprintFile is one fingerprinted file.
type FingerprintFile struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Category string `json:"category"`
}

// RepoFingerprints is the per-repo fingerprint artifact.
type RepoFingerprints struct {
	RepoID     string            `json:"repo_id"`
	CapturedAt string            `json:"captured_at"`
	Files      []FingerprintFile `json:"files"`
}

// Options configures one index run.
type Options struct {
	RepoID       string
	RepoPath     string
	OutputDir    string
	ErrorDir     string
	ActiveBranch string
	// KnownRepoIDs enables cross-repo dependency matching against the
	// registry. The repo's own id never matches.
	KnownRepoIDs []string
	DryRun       bool
}

// Paths are the artifact locations written by a run.
type Paths struct {
	Index        string `json:"index"`
	Fingerprints string `json:"fingerprints"`
}

// Result is the outcome of one index run.
type Result struct {
	OK           bool              `json:"ok"`
	Index        *RepoIndex        `json:"repo_index,omitempty"`
	Fingerprints *RepoFingerprints `json:"repo_fingerprints,omitempty"`
	Paths        Paths             `json:"paths"`
	ErrorFile    string            `json:"error_file,omitempty"`
}

// defaultTimeout bounds one index run over the git object store.
const defaultTimeout = 30 * time.Second

// Index runs the indexer. On failure an error artifact is written under
// ErrorDir (when set) and partial outputs are removed; the previous index
// pair, if any, is left untouched.
func Index(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "lanekeeper.index",
		trace.WithAttributes(attribute.String("repo_id", opts.RepoID)))
	defer span.End()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	result, err := run(ctx, opts)
	if err != nil {
		errorFile := writeErrorArtifact(opts, err)

		return &Result{OK: false, ErrorFile: errorFile}, err
	}

	return result, nil
}

func run(ctx context.Context, opts Options) (*Result, error) {
	repo, err := git.PlainOpen(opts.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotGitRepo, opts.RepoPath, err)
	}

	commit, resolveErr := resolveCommit(repo, opts.ActiveBranch)
	if resolveErr != nil {
		return nil, resolveErr
	}

	tree, treeErr := commit.Tree()
	if treeErr != nil {
		return nil, fmt.Errorf("read tree: %w", treeErr)
	}

	paths, files, listErr := listTree(ctx, tree)
	if listErr != nil {
		return nil, listErr
	}

	manifest := readPackageManifest(files)
	buildFiles := readBuildFiles(paths, files)

	detection := detect(paths, manifest, buildFiles, opts.RepoID, opts.KnownRepoIDs)

	selected := selectFingerprints(detection, paths)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFingerprintableFile, opts.RepoID)
	}

	fingerprints, digestErr := digestFiles(ctx, files, selected, opts.RepoID, commit)
	if digestErr != nil {
		return nil, digestErr
	}

	index := &RepoIndex{
		RepoID:                opts.RepoID,
		HeadSHA:               commit.Hash.String(),
		ScannedAt:             stamp.ISO(commit.Committer.When),
		Languages:             detection.Languages,
		Entrypoints:           detection.Entrypoints,
		BuildCommands:         detection.BuildCommands,
		APISurface:            detection.APISurface,
		MigrationsSchema:      detection.MigrationsSchema,
		CrossRepoDependencies: detection.CrossRepoDeps,
		Hotspots:              detection.Hotspots,
		Fingerprints:          map[string]FileDigest{},
	}

	for _, f := range fingerprints.Files {
		index.Fingerprints[f.Path] = FileDigest{SHA256: f.SHA256}
	}

	consistencyErr := checkConsistency(index, fingerprints)
	if consistencyErr != nil {
		return nil, consistencyErr
	}

	validateErr := validateArtifacts(index, fingerprints)
	if validateErr != nil {
		return nil, validateErr
	}

	result := &Result{
		OK:           true,
		Index:        index,
		Fingerprints: fingerprints,
		Paths: Paths{
			Index:        filepath.Join(opts.OutputDir, "repo_index.json"),
			Fingerprints: filepath.Join(opts.OutputDir, "repo_fingerprints.json"),
		},
	}

	if opts.DryRun {
		return result, nil
	}

	writeErr := writePair(result)
	if writeErr != nil {
		return nil, writeErr
	}

	return result, nil
}

func resolveCommit(repo *git.Repository, activeBranch string) (*object.Commit, error) {
	var hash plumbing.Hash

	if activeBranch != "" {
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(activeBranch), true)
		if err != nil {
			return nil, fmt.Errorf("resolve branch %q: %w", activeBranch, err)
		}

		hash = ref.Hash()
	} else {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}

		hash = head.Hash()
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("lookup commit %s: %w", hash, err)
	}

	return commit, nil
}

// listTree returns all tracked paths at the commit, sorted, plus a path to
// file lookup. Paths with traversal or backslash components are rejected.
func listTree(ctx context.Context, tree *object.Tree) ([]string, map[string]*object.File, error) {
	var paths []string

	files := map[string]*object.File{}

	iter := tree.Files()

	for {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("list tree: %w", ctx.Err())
		}

		file, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, nil, fmt.Errorf("iterate tree: %w", err)
		}

		checkErr := checkTreePath(file.Name)
		if checkErr != nil {
			return nil, nil, checkErr
		}

		paths = append(paths, file.Name)
		files[file.Name] = file
	}

	sort.Strings(paths)

	return paths, files, nil
}

// readBuildFiles reads Maven/Gradle build file contents for URL extraction.
func readBuildFiles(paths []string, files map[string]*object.File) map[string]string {
	out := map[string]string{}

	for _, p := range paths {
		base := filepath.Base(p)

		switch base {
		case "pom.xml", "build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts":
		default:
			continue
		}

		content, err := files[p].Contents()
		if err != nil {
			continue
		}

		out[p] = content
	}

	return out
}

func checkTreePath(path string) error {
	if strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}

	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrUnsafePath, path)
		}
	}

	return nil
}

func digestFiles(
	ctx context.Context,
	files map[string]*object.File,
	selected map[string]string,
	repoID string,
	commit *object.Commit,
) (*RepoFingerprints, error) {
	out := &RepoFingerprints{
		RepoID:     repoID,
		CapturedAt: stamp.ISO(commit.Committer.When),
	}

	for path, category := range selected {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fingerprint files: %w", ctx.Err())
		}

		file, ok := files[path]
		if !ok {
			continue
		}

		sum, err := digestBlob(file)
		if err != nil {
			return nil, err
		}

		out.Files = append(out.Files, FingerprintFile{Path: path, SHA256: sum, Category: category})
	}

	// Sorted by category::path for byte-stable output.
	sort.Slice(out.Files, func(i, j int) bool {
		a := out.Files[i].Category + "::" + out.Files[i].Path
		b := out.Files[j].Category + "::" + out.Files[j].Path

		return a < b
	})

	return out, nil
}

func digestBlob(file *object.File) (string, error) {
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open blob %s: %w", file.Name, err)
	}
	defer reader.Close()

	hasher := sha256.New()

	_, copyErr := io.Copy(hasher, reader)
	if copyErr != nil {
		return "", fmt.Errorf("hash blob %s: %w", file.Name, copyErr)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// checkConsistency enforces the invariant that the index fingerprint key set
// equals the fingerprint file path set with matching digests.
func checkConsistency(index *RepoIndex, fingerprints *RepoFingerprints) error {
	if len(index.Fingerprints) != len(fingerprints.Files) {
		return fmt.Errorf("%w: %d index keys vs %d files",
			ErrInconsistent, len(index.Fingerprints), len(fingerprints.Files))
	}

	for _, f := range fingerprints.Files {
		digest, ok := index.Fingerprints[f.Path]
		if !ok {
			return fmt.Errorf("%w: missing index key %q", ErrInconsistent, f.Path)
		}

		if digest.SHA256 != f.SHA256 {
			return fmt.Errorf("%w: sha mismatch for %q", ErrInconsistent, f.Path)
		}
	}

	return nil
}

func validateArtifacts(index *RepoIndex, fingerprints *RepoFingerprints) error {
	indexDoc, err := fsutil.MarshalCanonical(index)
	if err != nil {
		return err
	}

	validateErr := schema.ValidateBytes(schema.RepoIndex, indexDoc)
	if validateErr != nil {
		return validateErr
	}

	fpDoc, err := fsutil.MarshalCanonical(fingerprints)
	if err != nil {
		return err
	}

	return schema.ValidateBytes(schema.RepoFingerprints, fpDoc)
}

// writePair writes fingerprints then index. If the second write fails the
// first is rolled back (restored to the prior artifact, or removed when
// there was none) so the pair never half-updates.
func writePair(result *Result) error {
	prior, priorErr := os.ReadFile(result.Paths.Fingerprints)

	fpErr := fsutil.WriteJSONAtomic(result.Paths.Fingerprints, result.Fingerprints)
	if fpErr != nil {
		return fpErr
	}

	indexErr := fsutil.WriteJSONAtomic(result.Paths.Index, result.Index)
	if indexErr != nil {
		if priorErr == nil {
			_ = fsutil.WriteFileAtomic(result.Paths.Fingerprints, prior)
		} else {
			_ = os.Remove(result.Paths.Fingerprints)
		}

		return indexErr
	}

	return nil
}

func writeErrorArtifact(opts Options, runErr error) string {
	if opts.ErrorDir == "" || opts.DryRun {
		return ""
	}

	path := filepath.Join(opts.ErrorDir, opts.RepoID+".error.json")

	artifact := map[string]any{
		"ok":          false,
		"repo_id":     opts.RepoID,
		"message":     runErr.Error(),
		"captured_at": stamp.ISO(time.Now()),
	}

	writeErr := fsutil.WriteJSONAtomic(path, artifact)
	if writeErr != nil {
		return ""
	}

	return path
}
