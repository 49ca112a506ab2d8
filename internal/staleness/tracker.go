package staleness

import (
	"sort"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Escalation is one recorded escalation artifact for a repo.
type Escalation struct {
	At       string `json:"at"`
	Mode     string `json:"mode"`
	Artifact string `json:"artifact"`
}

// TrackerEntry tracks one soft-stale repo.
type TrackerEntry struct {
	FirstSeenAt        string       `json:"first_seen_at"`
	LastSeenAt         string       `json:"last_seen_at"`
	CurrentReasonCodes []string     `json:"current_reason_codes"`
	Escalations        []Escalation `json:"escalations"`
}

// Tracker is the persistent soft-stale tracker artifact. This module is its
// sole writer.
type Tracker struct {
	Version     int                      `json:"version"`
	ProjectRoot string                   `json:"projectRoot"`
	UpdatedAt   string                   `json:"updated_at"`
	Repos       map[string]*TrackerEntry `json:"repos"`
}

// LoadTracker reads the tracker, returning an empty one when absent.
func LoadTracker(path, projectRoot string) (*Tracker, error) {
	if !fsutil.Exists(path) {
		return &Tracker{Version: 1, ProjectRoot: projectRoot, Repos: map[string]*TrackerEntry{}}, nil
	}

	var tracker Tracker

	err := fsutil.ReadJSON(path, &tracker)
	if err != nil {
		return nil, err
	}

	validateErr := schema.Validate(schema.SoftStaleTracker, &tracker)
	if validateErr != nil {
		return nil, validateErr
	}

	if tracker.Repos == nil {
		tracker.Repos = map[string]*TrackerEntry{}
	}

	return &tracker, nil
}

// Save validates and atomically writes the tracker.
func (t *Tracker) Save(path string, now time.Time) error {
	t.UpdatedAt = stamp.ISO(now)

	validateErr := schema.Validate(schema.SoftStaleTracker, t)
	if validateErr != nil {
		return validateErr
	}

	return fsutil.WriteJSONAtomic(path, t)
}

// Observe reconciles the tracker against a system snapshot: soft-stale repos
// are upserted (first_seen_at preserved), recovered and hard-stale repos are
// removed.
func (t *Tracker) Observe(snapshot *SystemSnapshot, now time.Time) {
	soft := map[string][]string{}

	for _, snap := range snapshot.Repos {
		if snap.SoftStale() {
			soft[snap.RepoID] = snap.Reasons
		}
	}

	for repoID := range t.Repos {
		if _, ok := soft[repoID]; !ok {
			delete(t.Repos, repoID)
		}
	}

	nowISO := stamp.ISO(now)

	for repoID, reasons := range soft {
		entry := t.Repos[repoID]
		if entry == nil {
			entry = &TrackerEntry{FirstSeenAt: nowISO, Escalations: []Escalation{}}
			t.Repos[repoID] = entry
		}

		entry.LastSeenAt = nowISO
		entry.CurrentReasonCodes = append([]string(nil), reasons...)
	}
}

// SoftStaleRepoIDs returns tracked repo ids in sorted order.
func (t *Tracker) SoftStaleRepoIDs() []string {
	ids := make([]string, 0, len(t.Repos))

	for id := range t.Repos {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// escalatedToday reports whether the entry already has an escalation of mode
// on the given UTC day.
func (e *TrackerEntry) escalatedToday(mode, day string) bool {
	for _, esc := range e.Escalations {
		at, err := stamp.Parse(esc.At)
		if err != nil {
			continue
		}

		if esc.Mode == mode && stamp.Day(at) == day {
			return true
		}
	}

	return false
}
