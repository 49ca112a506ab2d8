// Package stamp provides the canonical timestamp formats shared by every
// lane artifact: ISO-8601 UTC with millisecond precision for JSON fields,
// and a filesystem-safe variant for artifact names.
package stamp

import (
	"fmt"
	"strings"
	"time"
)

// ISOMillis is the wire format for all JSON timestamps.
const ISOMillis = "2006-01-02T15:04:05.000Z"

// fsSafeBase is the filesystem-safe format without the millisecond suffix.
const fsSafeBase = "20060102_150405"

// dayLayout is the UTC day key used by daily counters and packet names.
const dayLayout = "20060102"

// segmentLayout is the hourly segment key (YYYYMMDD-HH).
const segmentLayout = "20060102-15"

// ISO formats t as ISO-8601 UTC with millisecond precision.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOMillis)
}

// Parse parses an ISO-8601 UTC millisecond timestamp. It tolerates timestamps
// written without the millisecond component by external producers.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(ISOMillis, s)
	if err == nil {
		return t, nil
	}

	t, rfcErr := time.Parse(time.RFC3339, s)
	if rfcErr != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	return t.UTC(), nil
}

// FSSafe formats t as YYYYMMDD_HHMMSSmmm for use in artifact filenames.
func FSSafe(t time.Time) string {
	u := t.UTC()

	return u.Format(fsSafeBase) + fmt.Sprintf("%03d", u.Nanosecond()/int(time.Millisecond))
}

// Day returns the UTC day key (YYYYMMDD) for t.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// SegmentKey returns the hourly event-log segment key (YYYYMMDD-HH) for t.
func SegmentKey(t time.Time) string {
	return t.UTC().Format(segmentLayout)
}

// Slug converts a free-form scope into a filesystem-safe lowercase slug.
func Slug(s string) string {
	var b strings.Builder

	lastDash := true

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')

				lastDash = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
