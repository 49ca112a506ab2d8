package staleness

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/config"
	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/knowledge"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// counterRetentionDays bounds how long daily escalation counters are kept.
const counterRetentionDays = 30

// noticeFile is the markdown artifact written into an update meeting.
const noticeFile = "SOFT_STALE_NOTICE.md"

// DailyCounter caps escalations across all repos per UTC day.
type DailyCounter struct {
	Version   int      `json:"version"`
	Count     int      `json:"count"`
	Artifacts []string `json:"artifacts"`
}

// Escalator turns long-standing soft-stale entries into escalation artifacts.
type Escalator struct {
	Layout   *layout.Layout
	Policy   config.SoftStale
	Meetings knowledge.Meetings
	DryRun   bool

	now func() time.Time
}

// NewEscalator wires an escalator with wall-clock time.
func NewEscalator(lay *layout.Layout, policy config.SoftStale, meetings knowledge.Meetings) *Escalator {
	return &Escalator{Layout: lay, Policy: policy, Meetings: meetings, now: time.Now}
}

// Run reconciles the tracker against the snapshot, escalates entries past the
// policy age, and persists tracker and counter. Returns the artifacts created
// this tick.
func (e *Escalator) Run(snapshot *SystemSnapshot) ([]string, error) {
	now := e.now()

	tracker, err := LoadTracker(e.Layout.SoftStaleTrackerPath(), e.Layout.OpsRoot)
	if err != nil {
		return nil, err
	}

	tracker.Observe(snapshot, now)

	day := stamp.Day(now)

	counter, counterErr := e.loadCounter(day)
	if counterErr != nil {
		return nil, counterErr
	}

	var created []string

	for _, repoID := range tracker.SoftStaleRepoIDs() {
		entry := tracker.Repos[repoID]

		firstSeen, parseErr := stamp.Parse(entry.FirstSeenAt)
		if parseErr != nil {
			return nil, parseErr
		}

		if now.Sub(firstSeen) < e.Policy.EscalateAfter {
			continue
		}

		if entry.escalatedToday(e.Policy.EscalateMode, day) {
			continue
		}

		if counter.Count >= e.Policy.EscalateCapPerDay {
			break
		}

		if e.DryRun {
			created = append(created, "(dry-run) "+repoID)

			continue
		}

		artifact, escErr := e.escalate(repoID, entry, now)
		if escErr != nil {
			return nil, escErr
		}

		entry.Escalations = append(entry.Escalations, Escalation{
			At:       stamp.ISO(now),
			Mode:     e.Policy.EscalateMode,
			Artifact: artifact,
		})

		counter.Count++
		counter.Artifacts = appendUniqueSorted(counter.Artifacts, artifact)
		created = append(created, artifact)
	}

	if e.DryRun {
		return created, nil
	}

	saveErr := tracker.Save(e.Layout.SoftStaleTrackerPath(), now)
	if saveErr != nil {
		return nil, saveErr
	}

	if len(created) > 0 {
		counterSaveErr := e.saveCounter(day, counter)
		if counterSaveErr != nil {
			return nil, counterSaveErr
		}
	}

	e.pruneCounters(now)

	return created, nil
}

// escalate creates the single artifact for one repo per the configured mode.
func (e *Escalator) escalate(repoID string, entry *TrackerEntry, now time.Time) (string, error) {
	if e.Policy.EscalateMode == config.EscalateDecisionPacket {
		return e.writeDecisionPacket(repoID, entry, now)
	}

	return e.writeMeetingNotice(repoID, entry, now)
}

func (e *Escalator) writeMeetingNotice(repoID string, entry *TrackerEntry, now time.Time) (string, error) {
	scope := "repo:" + repoID

	_, dir, err := e.Meetings.FindOpen(scope)
	if err != nil {
		return "", err
	}

	if dir == "" {
		_, openedDir, openErr := e.Meetings.Open(scope, now)
		if openErr != nil {
			return "", openErr
		}

		dir = openedDir
	}

	path := filepath.Join(dir, noticeFile)

	writeErr := fsutil.WriteFileAtomic(path, []byte(e.noticeMarkdown(repoID, entry, now)))
	if writeErr != nil {
		return "", writeErr
	}

	return path, nil
}

func (e *Escalator) writeDecisionPacket(repoID string, entry *TrackerEntry, now time.Time) (string, error) {
	suffix, err := randHex8()
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("DP-SOFT-STALE-%s_%s.md", stamp.Day(now), suffix)
	path := filepath.Join(e.Layout.DecisionPacketsDir(), name)

	writeErr := fsutil.WriteFileAtomic(path, []byte(e.packetMarkdown(repoID, entry, now)))
	if writeErr != nil {
		return "", writeErr
	}

	return path, nil
}

func (e *Escalator) noticeMarkdown(repoID string, entry *TrackerEntry, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Soft-stale notice: " + repoID + "\n\n")
	b.WriteString("Knowledge for `" + repoID + "` has been stale since " + entry.FirstSeenAt + ".\n\n")
	b.WriteString("- Reasons: " + strings.Join(entry.CurrentReasonCodes, ", ") + "\n")
	b.WriteString("- Noticed: " + stamp.ISO(now) + "\n")
	b.WriteString("\nRe-scan the repo or confirm the drift is expected.\n")

	return b.String()
}

func (e *Escalator) packetMarkdown(repoID string, entry *TrackerEntry, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Decision needed: soft-stale repo " + repoID + "\n\n")
	b.WriteString("- Repo: `" + repoID + "`\n")
	b.WriteString("- Stale since: " + entry.FirstSeenAt + "\n")
	b.WriteString("- Reasons: " + strings.Join(entry.CurrentReasonCodes, ", ") + "\n")
	b.WriteString("- Raised: " + stamp.ISO(now) + "\n")
	b.WriteString("\nDecide whether to force a re-scan, adjust the scan window, or retire the repo.\n")

	return b.String()
}

func (e *Escalator) loadCounter(day string) (*DailyCounter, error) {
	path := e.Layout.DailyCounterPath(day)

	if !fsutil.Exists(path) {
		return &DailyCounter{Version: 1, Artifacts: []string{}}, nil
	}

	var counter DailyCounter

	err := fsutil.ReadJSON(path, &counter)
	if err != nil {
		return nil, err
	}

	validateErr := schema.Validate(schema.DailyCounter, &counter)
	if validateErr != nil {
		return nil, validateErr
	}

	return &counter, nil
}

func (e *Escalator) saveCounter(day string, counter *DailyCounter) error {
	validateErr := schema.Validate(schema.DailyCounter, counter)
	if validateErr != nil {
		return validateErr
	}

	return fsutil.WriteJSONAtomic(e.Layout.DailyCounterPath(day), counter)
}

// pruneCounters removes daily counters older than the retention window.
// Best-effort: pruning failures never fail a tick.
func (e *Escalator) pruneCounters(now time.Time) {
	matches, err := filepath.Glob(filepath.Join(e.Layout.StalenessDir(), "soft_stale_escalations_*.json"))
	if err != nil {
		return
	}

	cutoff := stamp.Day(now.AddDate(0, 0, -counterRetentionDays))

	for _, path := range matches {
		base := filepath.Base(path)
		day := strings.TrimSuffix(strings.TrimPrefix(base, "soft_stale_escalations_"), ".json")

		if len(day) == 8 && day < cutoff {
			_ = os.Remove(path)
		}
	}
}

func appendUniqueSorted(list []string, item string) []string {
	for _, s := range list {
		if s == item {
			return list
		}
	}

	list = append(list, item)
	sort.Strings(list)

	return list
}

func randHex8() (string, error) {
	var buf [4]byte

	_, err := rand.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}

	return hex.EncodeToString(buf[:]), nil
}
