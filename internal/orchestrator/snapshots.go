package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/staleness"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// lockSnapshot records one lock acquisition outcome for operator forensics.
type lockSnapshot struct {
	Version  int    `json:"version"`
	At       string `json:"at"`
	LockName string `json:"lock_name"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	PID      int    `json:"pid"`
}

// refreshHint nudges operators to run a refresh when the system is stale.
type refreshHint struct {
	Version    int      `json:"version"`
	CreatedAt  string   `json:"created_at"`
	Scope      string   `json:"scope"`
	StaleRepos []string `json:"stale_repos"`
	Hint       string   `json:"hint"`
}

func (o *Orchestrator) checkpoints() *checkpoint.Store {
	store := checkpoint.NewStore(o.Layout.CheckpointsDir())
	store.DryRun = o.DryRun

	return store
}

// writeLockSnapshot records the acquisition outcome and prunes old
// snapshots. Best-effort: a failed snapshot never fails the tick.
func (o *Orchestrator) writeLockSnapshot(status, reason string) {
	now := o.now()

	snap := lockSnapshot{
		Version:  1,
		At:       stamp.ISO(now),
		LockName: layout.LockName,
		Status:   status,
		Reason:   reason,
		PID:      os.Getpid(),
	}

	name := "LOCK_STATUS-" + stamp.FSSafe(now) + ".json"

	_ = fsutil.WriteJSONAtomic(filepath.Join(o.Layout.LockStatusDir(), name), snap)

	fsutil.PruneOldest(o.Layout.LockStatusDir(), "LOCK_STATUS-*.json", layout.LockStatusKeep)
}

// writeRefreshHint drops one hint file when the system is stale and no
// system-scoped update meeting is already open. Best-effort.
func (o *Orchestrator) writeRefreshHint(ctx context.Context, snapshot *staleness.SystemSnapshot) {
	open, _, err := o.Meetings.FindOpen("system")
	if err != nil || open != nil {
		return
	}

	now := o.now()

	hint := refreshHint{
		Version:    1,
		CreatedAt:  stamp.ISO(now),
		Scope:      "system",
		StaleRepos: snapshot.StaleRepos,
		Hint:       "knowledge is stale; run `lanekeeper refresh` or open an update meeting",
	}

	name := "RH-" + stamp.FSSafe(now) + "__" + stamp.Slug(hint.Scope) + ".json"

	writeErr := fsutil.WriteJSONAtomic(filepath.Join(o.Layout.RefreshHintsDir(), name), hint)
	if writeErr != nil {
		o.Logger.WarnContext(ctx, "refresh hint write failed", "error", writeErr)

		return
	}

	fsutil.PruneOldest(o.Layout.RefreshHintsDir(), "RH-*.json", layout.RefreshHintKeep)
}
