package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// LaneState is the persisted lane state artifact.
type LaneState struct {
	Version       int           `json:"version"`
	Stage         string        `json:"stage"`
	EvidenceState EvidenceState `json:"evidence_state"`
	NextAction    Action        `json:"next_action"`
	UpdatedAt     string        `json:"updated_at"`
}

// stateError is the artifact written when a tick fails.
type stateError struct {
	Version int    `json:"version"`
	At      string `json:"at"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// loadPreviousStage reads the stage of the last persisted state; a missing or
// unreadable state reads as empty.
func loadPreviousStage(lay *layout.Layout) string {
	var state LaneState

	err := fsutil.ReadJSON(lay.StatePath(), &state)
	if err != nil {
		return ""
	}

	return state.Stage
}

// persistState writes state.json (validated), STATE.md, and the next-action
// hint, then clears any prior error artifact.
func persistState(lay *layout.Layout, state *LaneState) error {
	if state.NextAction.TargetRepos == nil {
		state.NextAction.TargetRepos = []string{}
	}

	validateErr := schema.Validate(schema.LaneState, state)
	if validateErr != nil {
		return validateErr
	}

	err := fsutil.WriteJSONAtomic(lay.StatePath(), state)
	if err != nil {
		return err
	}

	mdErr := fsutil.WriteFileAtomic(lay.StateMarkdownPath(), []byte(renderStateMarkdown(state)))
	if mdErr != nil {
		return mdErr
	}

	hintErr := fsutil.WriteJSONAtomic(lay.NextActionHintPath(), state.NextAction)
	if hintErr != nil {
		return hintErr
	}

	removeErr := os.Remove(lay.StateErrorPath())
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("clear error artifact: %w", removeErr)
	}

	return nil
}

// persistError writes the error artifact for a failed tick. Best-effort.
func persistError(lay *layout.Layout, now time.Time, message, stack string) {
	_ = fsutil.WriteJSONAtomic(lay.StateErrorPath(), stateError{
		Version: 1,
		At:      stamp.ISO(now),
		Message: message,
		Stack:   stack,
	})
}

// renderStateMarkdown produces the human view: yaml front matter plus a
// short prose summary with relative times.
func renderStateMarkdown(state *LaneState) string {
	front := map[string]any{
		"stage":          state.Stage,
		"evidence_level": state.EvidenceState.EvidenceLevel,
		"next_action":    state.NextAction.Type,
		"updated_at":     state.UpdatedAt,
	}

	frontBytes, err := yaml.Marshal(front)
	if err != nil {
		frontBytes = []byte("stage: " + state.Stage + "\n")
	}

	var b strings.Builder

	b.WriteString("---\n")
	b.Write(frontBytes)
	b.WriteString("---\n\n")
	b.WriteString("# Lane A state\n\n")
	b.WriteString("- Stage: **" + state.Stage + "**\n")
	b.WriteString("- Evidence: " + state.EvidenceState.EvidenceLevel)

	if state.EvidenceState.MinimumSufficient {
		b.WriteString(" (minimum sufficient)")
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("- Pending events: %d\n", state.EvidenceState.PendingEvents))
	b.WriteString("- Last index: " + relative(state.EvidenceState.LastIndexAt) + "\n")
	b.WriteString("- Last scan: " + relative(state.EvidenceState.LastScanAt) + "\n")
	b.WriteString("\n## Next action\n\n")
	b.WriteString("- Type: `" + state.NextAction.Type + "`\n")

	if len(state.NextAction.TargetRepos) > 0 {
		b.WriteString("- Targets: " + strings.Join(state.NextAction.TargetRepos, ", ") + "\n")
	}

	b.WriteString("- Reason: " + state.NextAction.Reason + "\n")

	return b.String()
}

func relative(iso *string) string {
	if iso == nil {
		return "never"
	}

	t, err := stamp.Parse(*iso)
	if err != nil {
		return *iso
	}

	return humanize.Time(t)
}
