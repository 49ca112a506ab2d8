package staleness

import (
	"time"

	"github.com/go-git/go-git/v6"

	"github.com/Sumatoshi-tech/lanekeeper/internal/checkpoint"
	"github.com/Sumatoshi-tech/lanekeeper/internal/eventlog"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// RefreshConsumer is the event-id checkpoint the refresh consumer keeps; the
// collector reads it to find which merge events are still unconsumed.
const RefreshConsumer = "last_refresh"

// Collector gathers repo facts from the registry, the worktrees, the scan
// artifacts, and the event log, then classifies them.
type Collector struct {
	Layout     *layout.Layout
	Registry   *registry.Registry
	ReposRoot  string
	ScanWindow time.Duration

	now func() time.Time
}

// NewCollector wires a collector with wall-clock time.
func NewCollector(lay *layout.Layout, reg *registry.Registry, reposRoot string, scanWindow time.Duration) *Collector {
	return &Collector{
		Layout:     lay,
		Registry:   reg,
		ReposRoot:  reposRoot,
		ScanWindow: scanWindow,
		now:        time.Now,
	}
}

// Snapshot observes every active repo and returns the system snapshot.
func (c *Collector) Snapshot() (*SystemSnapshot, error) {
	now := c.now()

	mergeFacts, err := c.collectMergeFacts()
	if err != nil {
		return nil, err
	}

	var snaps []RepoSnapshot

	for _, repo := range c.Registry.Active() {
		facts := RepoFacts{RepoID: repo.RepoID}

		if mf, ok := mergeFacts[repo.RepoID]; ok {
			facts.LastMergeEventTime = mf.lastMerge
			facts.UnconsumedMerges = mf.unconsumed
		}

		facts.RepoHeadSHA = headSHA(repo.WorktreePath(c.ReposRoot))

		scan, scanErr := knowledge.LoadScan(c.Layout.KnowledgeScanPath(repo.RepoID))
		if scanErr != nil {
			return nil, scanErr
		}

		if scan != nil {
			facts.ScanSeen = true
			facts.LastScannedHeadSHA = scan.HeadSHA

			scannedAt, parseErr := stamp.Parse(scan.ScannedAt)
			if parseErr == nil {
				facts.LastScanTime = scannedAt
			}
		}

		snaps = append(snaps, Classify(facts, now, c.ScanWindow))
	}

	return Combine(snaps, now), nil
}

type mergeFact struct {
	lastMerge  time.Time
	unconsumed int
}

// collectMergeFacts walks the event log once, tracking per repo the latest
// merge event time and how many merge events sit past the refresh checkpoint.
func (c *Collector) collectMergeFacts() (map[string]*mergeFact, error) {
	facts := map[string]*mergeFact{}

	store := checkpoint.NewStore(c.Layout.CheckpointsDir())

	cp, err := store.ReadEventID(RefreshConsumer)
	if err != nil {
		return nil, err
	}

	// Events are consumed up to and including the checkpointed event. When
	// the anchor event is gone (compacted), everything past its segment
	// counts as unconsumed.
	consumed := cp.LastProcessedSegment != nil

	walkErr := eventlog.ForEach(c.Layout.SegmentsDir(), func(pos eventlog.Position, line []byte) error {
		if consumed && pos.Segment > *cp.LastProcessedSegment {
			consumed = false
		}

		ev, parseErr := eventlog.ParseLine(line)
		if parseErr != nil {
			// Corrupt lines are the refresh consumer's problem to report;
			// staleness observation skips them.
			return nil
		}

		if ev.Type == eventlog.TypeMerge && ev.RepoID != "" {
			fact := facts[ev.RepoID]
			if fact == nil {
				fact = &mergeFact{}
				facts[ev.RepoID] = fact
			}

			ts, tsErr := stamp.Parse(ev.Timestamp)
			if tsErr == nil && ts.After(fact.lastMerge) {
				fact.lastMerge = ts
			}

			if !consumed {
				fact.unconsumed++
			}
		}

		if consumed && cp.LastProcessedEventID != nil &&
			pos.Segment == *cp.LastProcessedSegment && ev.EventID == *cp.LastProcessedEventID {
			consumed = false
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return facts, nil
}

// headSHA resolves the current HEAD of a worktree; unreadable repos report
// an empty sha and fall out of drift detection.
func headSHA(worktree string) string {
	repo, err := git.PlainOpen(worktree)
	if err != nil {
		return ""
	}

	head, headErr := repo.Head()
	if headErr != nil {
		return ""
	}

	return head.Hash().String()
}
