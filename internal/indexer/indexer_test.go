package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/lanekeeper/internal/gittest"
)

func seedNodeRepo(t *testing.T) *gittest.Repo {
	t.Helper()

	repo := gittest.Init(t)

	repo.WriteFile("package.json", `{
  "name": "@acme/billing-api",
  "main": "src/index.js",
  "scripts": {"test": "jest", "build": "tsc", "lint": "eslint ."},
  "dependencies": {"@acme/web-app": "1.0.0", "express": "4.0.0"}
}`)
	repo.WriteFile("src/index.js", "console.log('boot');\n")
	repo.WriteFile("src/routes/users.js", "module.exports = [];\n")
	repo.WriteFile("openapi.yaml", "openapi: 3.0.0\n")
	repo.WriteFile("db/migrations/001_init.sql", "CREATE TABLE users (id int);\n")
	repo.Commit("initial")

	return repo
}

func indexOptions(t *testing.T, repo *gittest.Repo) Options {
	t.Helper()

	return Options{
		RepoID:       "billing-api",
		RepoPath:     repo.Dir,
		OutputDir:    filepath.Join(t.TempDir(), "evidence"),
		ErrorDir:     filepath.Join(t.TempDir(), "errors"),
		KnownRepoIDs: []string{"billing-api", "web-app"},
	}
}

func TestIndex_NodeRepo(t *testing.T) {
	t.Parallel()

	repo := seedNodeRepo(t)
	opts := indexOptions(t, repo)

	result, err := Index(context.Background(), opts)

	require.NoError(t, err)
	require.True(t, result.OK)

	idx := result.Index

	assert.Equal(t, "billing-api", idx.RepoID)
	assert.Equal(t, repo.Head(), idx.HeadSHA)
	assert.Equal(t, "2026-01-01T12:00:00.000Z", idx.ScannedAt)
	assert.Contains(t, idx.Languages, "JavaScript")
	assert.Equal(t, []string{"src/index.js"}, idx.Entrypoints)
	assert.Equal(t, "npm install", idx.BuildCommands.Install)
	assert.Equal(t, "npm test", idx.BuildCommands.Test)
	assert.Equal(t, []string{"package.json"}, idx.BuildCommands.Evidence)
	assert.Equal(t, []string{"openapi.yaml"}, idx.APISurface.OpenAPI)
	assert.Equal(t, []string{"src/routes/users.js"}, idx.APISurface.Routes)
	assert.Equal(t, []string{"db/migrations/001_init.sql"}, idx.MigrationsSchema)
	assert.Equal(t, []string{"src/index.js", "src/routes/users.js"}, idx.Hotspots)

	require.Len(t, idx.CrossRepoDependencies, 1)
	assert.Equal(t, "web-app", idx.CrossRepoDependencies[0].Target)
	assert.Equal(t, "package", idx.CrossRepoDependencies[0].Type)

	assert.FileExists(t, result.Paths.Index)
	assert.FileExists(t, result.Paths.Fingerprints)
}

func TestIndex_FingerprintConsistency(t *testing.T) {
	t.Parallel()

	repo := seedNodeRepo(t)

	result, err := Index(context.Background(), indexOptions(t, repo))

	require.NoError(t, err)

	fp := result.Fingerprints

	require.NotEmpty(t, fp.Files)
	assert.Len(t, result.Index.Fingerprints, len(fp.Files))

	for _, f := range fp.Files {
		digest, ok := result.Index.Fingerprints[f.Path]

		require.True(t, ok, f.Path)
		assert.Equal(t, f.SHA256, digest.SHA256)
		assert.Len(t, f.SHA256, 64)
	}

	// Sorted by category::path.
	for i := 1; i < len(fp.Files); i++ {
		prev := fp.Files[i-1].Category + "::" + fp.Files[i-1].Path
		cur := fp.Files[i].Category + "::" + fp.Files[i].Path

		assert.Less(t, prev, cur)
	}
}

func TestIndex_DeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	repo := seedNodeRepo(t)
	opts := indexOptions(t, repo)

	first, err := Index(context.Background(), opts)
	require.NoError(t, err)

	firstIndex, readErr := os.ReadFile(first.Paths.Index)
	require.NoError(t, readErr)

	firstFP, readErr := os.ReadFile(first.Paths.Fingerprints)
	require.NoError(t, readErr)

	second, err := Index(context.Background(), opts)
	require.NoError(t, err)

	secondIndex, readErr := os.ReadFile(second.Paths.Index)
	require.NoError(t, readErr)

	secondFP, readErr := os.ReadFile(second.Paths.Fingerprints)
	require.NoError(t, readErr)

	assert.Equal(t, firstIndex, secondIndex)
	assert.Equal(t, firstFP, secondFP)
}

func TestIndex_ActiveBranch(t *testing.T) {
	t.Parallel()

	repo := seedNodeRepo(t)
	repo.Branch("release")

	// Advance the default branch past the release branch.
	repo.WriteFile("src/index.js", "console.log('v2');\n")
	head2 := repo.Commit("second")

	opts := indexOptions(t, repo)
	opts.ActiveBranch = "release"

	result, err := Index(context.Background(), opts)

	require.NoError(t, err)
	assert.NotEqual(t, head2, result.Index.HeadSHA)
}

func TestIndex_EmptyRepoFails(t *testing.T) {
	t.Parallel()

	repo := gittest.Init(t)

	repo.WriteFile("README.md", "docs only\n")
	repo.Commit("initial")

	opts := indexOptions(t, repo)

	result, err := Index(context.Background(), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFingerprintableFile)
	assert.False(t, result.OK)
	assert.NoFileExists(t, filepath.Join(opts.OutputDir, "repo_index.json"))
	assert.NoFileExists(t, filepath.Join(opts.OutputDir, "repo_fingerprints.json"))
	assert.FileExists(t, result.ErrorFile)
}

func TestIndex_NotARepo(t *testing.T) {
	t.Parallel()

	opts := Options{RepoID: "ghost", RepoPath: t.TempDir(), OutputDir: t.TempDir()}

	_, err := Index(context.Background(), opts)

	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestIndex_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	repo := seedNodeRepo(t)
	opts := indexOptions(t, repo)
	opts.DryRun = true

	result, err := Index(context.Background(), opts)

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.NoFileExists(t, result.Paths.Index)
	assert.NoFileExists(t, result.Paths.Fingerprints)
}

func TestIndex_GoRepo(t *testing.T) {
	t.Parallel()

	repo := gittest.Init(t)

	repo.WriteFile("go.mod", "module example.com/tool\n\ngo 1.24\n")
	repo.WriteFile("main.go", "package main\n\nfunc main() {}\n")
	repo.WriteFile("cmd/helper/main.go", "package main\n\nfunc main() {}\n")
	repo.Commit("initial")

	opts := Options{RepoID: "tool", RepoPath: repo.Dir, OutputDir: t.TempDir()}

	result, err := Index(context.Background(), opts)

	require.NoError(t, err)
	assert.Contains(t, result.Index.Languages, "Go")
	assert.Equal(t, []string{"cmd/helper/main.go", "main.go"}, result.Index.Entrypoints)
	assert.Equal(t, "go test ./...", result.Index.BuildCommands.Test)
}
