// Package registry reads the repository registry produced by onboarding.
// Every Lane A component resolves repos through the active view.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
)

// Repo statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusRemoved  = "removed"
)

// repoIDPattern is the lower-kebab repo id shape.
var repoIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ErrUnknownRepo is returned when a repo id is not in the registry.
var ErrUnknownRepo = errors.New("unknown repo")

// Repo is one registered repository.
type Repo struct {
	RepoID       string `json:"repo_id"`
	Path         string `json:"path"`
	ActiveBranch string `json:"active_branch,omitempty"`
	Status       string `json:"status"`
}

// Registry is the on-disk repository registry.
type Registry struct {
	Version int    `json:"version"`
	Repos   []Repo `json:"repos"`
}

// ValidRepoID reports whether id is a well-formed lower-kebab repo id.
func ValidRepoID(id string) bool {
	return repoIDPattern.MatchString(id)
}

// Load reads and validates the registry at path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	validateErr := schema.ValidateBytes(schema.Registry, raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var reg Registry

	decodeErr := json.Unmarshal(raw, &reg)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode registry: %w", decodeErr)
	}

	return &reg, nil
}

// Active returns the active repos sorted by repo id.
func (r *Registry) Active() []Repo {
	var active []Repo

	for _, repo := range r.Repos {
		if repo.Status == StatusActive {
			active = append(active, repo)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].RepoID < active[j].RepoID })

	return active
}

// Lookup returns the registered repo with the given id.
func (r *Registry) Lookup(repoID string) (*Repo, error) {
	for i := range r.Repos {
		if r.Repos[i].RepoID == repoID {
			return &r.Repos[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownRepo, repoID)
}

// WorktreePath resolves the repo's working tree under reposRoot.
func (repo *Repo) WorktreePath(reposRoot string) string {
	if filepath.IsAbs(repo.Path) {
		return repo.Path
	}

	return filepath.Join(reposRoot, repo.Path)
}
