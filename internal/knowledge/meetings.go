package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Meeting statuses.
const (
	MeetingOpen   = "open"
	MeetingClosed = "closed"
)

// Meeting is an update meeting record under the meetings directory.
type Meeting struct {
	Version   int    `json:"version"`
	MeetingID string `json:"meeting_id"`
	Scope     string `json:"scope"`
	Status    string `json:"status"`
	OpenedAt  string `json:"opened_at"`
	ClosedAt  string `json:"closed_at,omitempty"`
}

// Meetings manages update meetings for a scope. The filesystem
// implementation is the default; tests may substitute their own.
type Meetings interface {
	// FindOpen returns the open meeting for scope and its directory, or
	// (nil, "", nil) when none exists.
	FindOpen(scope string) (*Meeting, string, error)
	// Open creates a new open meeting for scope and returns it with its
	// directory.
	Open(scope string, now time.Time) (*Meeting, string, error)
}

// FSMeetings keeps meetings as UM-{stamp}__{scope} directories each holding a
// MEETING.json.
type FSMeetings struct {
	Dir string
}

// MeetingFile is the record filename inside a meeting directory.
const MeetingFile = "MEETING.json"

// FindOpen scans meeting directories newest-first for an open meeting
// matching scope.
func (m *FSMeetings) FindOpen(scope string) (*Meeting, string, error) {
	entries, err := os.ReadDir(m.Dir)
	if os.IsNotExist(err) {
		return nil, "", nil
	}

	if err != nil {
		return nil, "", fmt.Errorf("read meetings dir: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		recordPath := filepath.Join(m.Dir, name, MeetingFile)
		if !fsutil.Exists(recordPath) {
			continue
		}

		var meeting Meeting

		readErr := fsutil.ReadJSON(recordPath, &meeting)
		if readErr != nil {
			return nil, "", readErr
		}

		if meeting.Status == MeetingOpen && meeting.Scope == scope {
			return &meeting, filepath.Join(m.Dir, name), nil
		}
	}

	return nil, "", nil
}

// Open creates a meeting directory named after now and the scope slug.
func (m *FSMeetings) Open(scope string, now time.Time) (*Meeting, string, error) {
	id := "UM-" + now.UTC().Format("20060102_150405") + "__" + stamp.Slug(scope)
	dir := filepath.Join(m.Dir, id)

	meeting := &Meeting{
		Version:   1,
		MeetingID: id,
		Scope:     scope,
		Status:    MeetingOpen,
		OpenedAt:  stamp.ISO(now),
	}

	err := fsutil.WriteJSONAtomic(filepath.Join(dir, MeetingFile), meeting)
	if err != nil {
		return nil, "", err
	}

	return meeting, dir, nil
}
