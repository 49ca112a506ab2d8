// Package checkpoint persists per-consumer resume positions for the event
// log. Two shapes exist: a line-offset checkpoint (segment + 0-based line
// index) and an event-id checkpoint (segment + last processed event id).
// Writes are atomic; reads default a brand-new stream.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Version is the checkpoint record format version.
const Version = 1

// consumerPattern constrains consumer names to fs-safe identifiers.
var consumerPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Sentinel errors for checkpoint validation.
var (
	ErrBadConsumerName = errors.New("invalid consumer name")
	ErrBadOffset       = errors.New("invalid checkpoint offset")
)

// Offset is a line-offset checkpoint record.
type Offset struct {
	Version         int     `json:"version"`
	Consumer        string  `json:"consumer"`
	LastReadSegment *string `json:"last_read_segment"`
	LastReadOffset  int     `json:"last_read_offset"`
	UpdatedAt       string  `json:"updated_at"`
}

// EventID is an event-id checkpoint record.
type EventID struct {
	Version              int     `json:"version"`
	Consumer             string  `json:"consumer"`
	LastProcessedSegment *string `json:"last_processed_segment"`
	LastProcessedEventID *string `json:"last_processed_event_id"`
	UpdatedAt            string  `json:"updated_at"`
}

// Store reads and writes checkpoints under one directory.
type Store struct {
	Dir    string
	DryRun bool

	// now is swapped in tests for deterministic updated_at stamps.
	now func() time.Time
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, now: time.Now}
}

// Path returns the checkpoint file path for a consumer.
func (s *Store) Path(consumer string) string {
	return filepath.Join(s.Dir, "consumer-"+consumer+".json")
}

func checkConsumer(consumer string) error {
	if !consumerPattern.MatchString(consumer) {
		return fmt.Errorf("%w: %q", ErrBadConsumerName, consumer)
	}

	return nil
}

// ReadOffset returns the line-offset checkpoint for consumer, or a defaulted
// record (nil segment, offset 0) when absent.
func (s *Store) ReadOffset(consumer string) (*Offset, error) {
	err := checkConsumer(consumer)
	if err != nil {
		return nil, err
	}

	raw, readErr := os.ReadFile(s.Path(consumer))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return &Offset{Version: Version, Consumer: consumer}, nil
		}

		return nil, fmt.Errorf("read checkpoint: %w", readErr)
	}

	validateErr := schema.ValidateBytes(schema.CheckpointOffset, raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var record Offset

	decodeErr := fsutil.ReadJSON(s.Path(consumer), &record)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return &record, nil
}

// WriteOffset validates and atomically persists a line-offset checkpoint.
// A nil segment means a brand-new stream and requires offset 0. In dry-run
// mode nothing is written.
func (s *Store) WriteOffset(consumer string, segment *string, offset int) error {
	err := checkConsumer(consumer)
	if err != nil {
		return err
	}

	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrBadOffset, offset)
	}

	if segment == nil && offset != 0 {
		return fmt.Errorf("%w: nil segment requires offset 0, got %d", ErrBadOffset, offset)
	}

	if s.DryRun {
		return nil
	}

	record := Offset{
		Version:         Version,
		Consumer:        consumer,
		LastReadSegment: segment,
		LastReadOffset:  offset,
		UpdatedAt:       stamp.ISO(s.now()),
	}

	return fsutil.WriteJSONAtomic(s.Path(consumer), record)
}

// ReadEventID returns the event-id checkpoint for consumer, or a defaulted
// record when absent.
func (s *Store) ReadEventID(consumer string) (*EventID, error) {
	err := checkConsumer(consumer)
	if err != nil {
		return nil, err
	}

	raw, readErr := os.ReadFile(s.Path(consumer))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return &EventID{Version: Version, Consumer: consumer}, nil
		}

		return nil, fmt.Errorf("read checkpoint: %w", readErr)
	}

	validateErr := schema.ValidateBytes(schema.CheckpointEventID, raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var record EventID

	decodeErr := fsutil.ReadJSON(s.Path(consumer), &record)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return &record, nil
}

// WriteEventID validates and atomically persists an event-id checkpoint.
// Segment and event id must be both set or both nil.
func (s *Store) WriteEventID(consumer string, segment, eventID *string) error {
	err := checkConsumer(consumer)
	if err != nil {
		return err
	}

	if (segment == nil) != (eventID == nil) {
		return fmt.Errorf("%w: segment and event id must be set together", ErrBadOffset)
	}

	if s.DryRun {
		return nil
	}

	record := EventID{
		Version:              Version,
		Consumer:             consumer,
		LastProcessedSegment: segment,
		LastProcessedEventID: eventID,
		UpdatedAt:            stamp.ISO(s.now()),
	}

	return fsutil.WriteJSONAtomic(s.Path(consumer), record)
}
