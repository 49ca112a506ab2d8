// Package gittest builds throwaway git repositories for tests. Commit times
// are fixed so artifacts derived from them are byte-stable across runs.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// CommitTime is the fixed committer time used by Commit.
var CommitTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Repo wraps a test repository on disk.
type Repo struct {
	Dir  string
	Repo *git.Repository

	t *testing.T
}

// Init creates a new repository under a temp directory.
func Init(t *testing.T) *Repo {
	t.Helper()

	return InitAt(t, t.TempDir())
}

// InitAt creates a new repository at dir, creating it if needed.
func InitAt(t *testing.T, dir string) *Repo {
	t.Helper()

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	repo, initErr := git.PlainInit(dir, false)
	if initErr != nil {
		t.Fatalf("init repo: %v", initErr)
	}

	return &Repo{Dir: dir, Repo: repo, t: t}
}

// WriteFile writes a file into the working tree, creating parents.
func (r *Repo) WriteFile(path, content string) {
	r.t.Helper()

	full := filepath.Join(r.Dir, filepath.FromSlash(path))

	err := os.MkdirAll(filepath.Dir(full), 0o755)
	if err != nil {
		r.t.Fatalf("mkdir for %s: %v", path, err)
	}

	writeErr := os.WriteFile(full, []byte(content), 0o644)
	if writeErr != nil {
		r.t.Fatalf("write %s: %v", path, writeErr)
	}
}

// Commit stages everything and commits with a fixed signature and time,
// advanced one minute per call so history stays ordered.
func (r *Repo) Commit(message string) string {
	r.t.Helper()

	wt, err := r.Repo.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}

	_, addErr := wt.Add(".")
	if addErr != nil {
		r.t.Fatalf("add: %v", addErr)
	}

	head, _ := r.Repo.Head()

	when := CommitTime
	if head != nil {
		// Keep commit times strictly increasing.
		commit, commitErr := r.Repo.CommitObject(head.Hash())
		if commitErr == nil {
			when = commit.Committer.When.Add(time.Minute)
		}
	}

	sig := &object.Signature{Name: "Lane Keeper", Email: "lanekeeper@example.com", When: when}

	hash, commitErr := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if commitErr != nil {
		r.t.Fatalf("commit: %v", commitErr)
	}

	return hash.String()
}

// Branch creates a branch at the current HEAD.
func (r *Repo) Branch(name string) {
	r.t.Helper()

	head, err := r.Repo.Head()
	if err != nil {
		r.t.Fatalf("head: %v", err)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())

	setErr := r.Repo.Storer.SetReference(ref)
	if setErr != nil {
		r.t.Fatalf("set branch %s: %v", name, setErr)
	}
}

// Head returns the current HEAD commit sha.
func (r *Repo) Head() string {
	r.t.Helper()

	head, err := r.Repo.Head()
	if err != nil {
		r.t.Fatalf("head: %v", err)
	}

	return head.Hash().String()
}
