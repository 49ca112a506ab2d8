// Package schema validates every on-disk lane entity against its JSON schema.
// The core only accepts validated shapes; validation failures surface the
// first schema message and never leave partial writes behind.
package schema

import (
	"embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names, matching files under schemas/.
const (
	KnowledgeChangeEvent = "knowledge_change_event"
	CheckpointOffset     = "consumer_checkpoint_offset"
	CheckpointEventID    = "consumer_checkpoint_event_id"
	RepoIndex            = "repo_index"
	RepoFingerprints     = "repo_fingerprints"
	LaneState            = "lane_state"
	LockRecord           = "lock_record"
	SoftStaleTracker     = "soft_stale_tracker"
	DailyCounter         = "daily_counter"
	DecisionPacket       = "decision_packet"
	Registry             = "registry"
	Meeting              = "meeting"
	CommitteeStatus      = "committee_status"
)

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

func load(name string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if s, ok := compiled[name]; ok {
		return s, nil
	}

	raw, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}

	s, compileErr := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if compileErr != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, compileErr)
	}

	compiled[name] = s

	return s, nil
}

// ValidateBytes validates a raw JSON document against the named schema.
// On failure, the error carries the first schema violation.
func ValidateBytes(name string, raw []byte) error {
	s, err := load(name)
	if err != nil {
		return err
	}

	result, validateErr := s.Validate(gojsonschema.NewBytesLoader(raw))
	if validateErr != nil {
		return fmt.Errorf("validate %s: %w", name, validateErr)
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return fmt.Errorf("%s: %s: %s", name, first.Field(), first.Description())
	}

	return nil
}

// Validate validates a decoded Go value against the named schema.
func Validate(name string, doc any) error {
	s, err := load(name)
	if err != nil {
		return err
	}

	result, validateErr := s.Validate(gojsonschema.NewGoLoader(doc))
	if validateErr != nil {
		return fmt.Errorf("validate %s: %w", name, validateErr)
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return fmt.Errorf("%s: %s: %s", name, first.Field(), first.Description())
	}

	return nil
}
