// Package eventlog implements the segmented append-only knowledge-change
// event store. Segments are hour-sharded JSON Lines files; producers append,
// consumers read through anchor-aware iteration and never mutate segments.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Well-known event types. The type vocabulary is open; these are the types
// the core reacts to.
const (
	TypeMerge = "merge"
	TypeScan  = "scan"
	TypeIndex = "index"
)

// segmentPattern matches events-YYYYMMDD-HH.jsonl.
var segmentPattern = regexp.MustCompile(`^events-(\d{8}-\d{2})\.jsonl$`)

// Sentinel errors for the reading protocol.
var (
	// ErrStop terminates iteration early without reporting an error.
	ErrStop = errors.New("stop iteration")
	// ErrAnchorSegmentNotFound signals checkpoint corruption: the anchor
	// segment named by a checkpoint is missing from the log.
	ErrAnchorSegmentNotFound = errors.New("checkpoint segment not found")
)

// Artifacts lists artifact paths attached to an event.
type Artifacts struct {
	Paths []string `json:"paths"`
}

// Event is one immutable knowledge-change event.
type Event struct {
	EventID       string         `json:"event_id"`
	Timestamp     string         `json:"timestamp"`
	Type          string         `json:"type"`
	Scope         string         `json:"scope"`
	RepoID        string         `json:"repo_id,omitempty"`
	WorkID        string         `json:"work_id,omitempty"`
	Commit        string         `json:"commit,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Artifacts     *Artifacts     `json:"artifacts,omitempty"`
	Obligations   map[string]any `json:"obligations,omitempty"`
	ChangedPaths  []string       `json:"changed_paths,omitempty"`
	AffectedPaths []string       `json:"affected_paths,omitempty"`
	RiskLevel     string         `json:"risk_level,omitempty"`
}

// Paths returns the event's touched paths: changed_paths when present,
// otherwise affected_paths.
func (e *Event) Paths() []string {
	if len(e.ChangedPaths) > 0 {
		return e.ChangedPaths
	}

	return e.AffectedPaths
}

// SegmentName returns the segment file name for an hourly key.
func SegmentName(key string) string {
	return "events-" + key + ".jsonl"
}

// SegmentKey extracts the YYYYMMDD-HH key from a segment file name.
func SegmentKey(name string) (string, bool) {
	m := segmentPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// ListSegments returns segment file names in dir, lexicographically sorted.
// A missing directory is an empty log.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list segments: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if segmentPattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// ParseLine decodes and validates one segment line.
func ParseLine(line []byte) (*Event, error) {
	validateErr := schema.ValidateBytes(schema.KnowledgeChangeEvent, line)
	if validateErr != nil {
		return nil, validateErr
	}

	var ev Event

	err := json.Unmarshal(line, &ev)
	if err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	return &ev, nil
}

// Append validates ev and appends it to the segment for its timestamp hour.
// The append is a single write call, so concurrent producers cannot
// interleave lines. Returns the segment file name written to.
func Append(dir string, ev *Event) (string, error) {
	line, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}

	validateErr := schema.ValidateBytes(schema.KnowledgeChangeEvent, line)
	if validateErr != nil {
		return "", validateErr
	}

	ts, parseErr := stamp.Parse(ev.Timestamp)
	if parseErr != nil {
		return "", parseErr
	}

	name := SegmentName(stamp.SegmentKey(ts))

	appendErr := fsutil.AppendLine(filepath.Join(dir, name), line)
	if appendErr != nil {
		return "", appendErr
	}

	return name, nil
}

// Position identifies one line in the log.
type Position struct {
	Segment string // Segment file name.
	Line    int    // 0-based line index within the segment.
}

// LineFunc receives each raw event line in order. Returning ErrStop ends
// iteration without error; any other error aborts it.
type LineFunc func(pos Position, line []byte) error

// ForEach iterates every non-blank line of every segment in order.
func ForEach(dir string, fn LineFunc) error {
	return ForEachAfter(dir, "", -1, fn)
}

// ForEachAfter iterates lines strictly after the (anchorSegment, anchorLine)
// position. An empty anchorSegment starts from the beginning. If the anchor
// segment no longer exists on disk the log is considered corrupt and
// ErrAnchorSegmentNotFound is returned.
func ForEachAfter(dir, anchorSegment string, anchorLine int, fn LineFunc) error {
	segments, err := ListSegments(dir)
	if err != nil {
		return err
	}

	if anchorSegment != "" && !slices.Contains(segments, anchorSegment) {
		return fmt.Errorf("%w: %s", ErrAnchorSegmentNotFound, anchorSegment)
	}

	for _, name := range segments {
		if anchorSegment != "" && name < anchorSegment {
			continue
		}

		skipThrough := -1
		if name == anchorSegment {
			skipThrough = anchorLine
		}

		iterErr := forEachLine(dir, name, skipThrough, fn)
		if iterErr != nil {
			if errors.Is(iterErr, ErrStop) {
				return nil
			}

			return iterErr
		}
	}

	return nil
}

func forEachLine(dir, name string, skipThrough int, fn LineFunc) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read segment %s: %w", name, err)
	}

	lines := strings.Split(string(data), "\n")

	for idx, line := range lines {
		if idx <= skipThrough || strings.TrimSpace(line) == "" {
			continue
		}

		fnErr := fn(Position{Segment: name, Line: idx}, []byte(line))
		if fnErr != nil {
			return fnErr
		}
	}

	return nil
}
