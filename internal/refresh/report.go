package refresh

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/layout"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// reportBase names the refresh report pair under the lane logs directory.
const reportBase = "knowledge-refresh-from-events.report"

// report is the JSON shape of the refresh report.
type report struct {
	Version            int      `json:"version"`
	GeneratedAt        string   `json:"generated_at"`
	OK                 bool     `json:"ok"`
	EventsConsumed     int      `json:"events_consumed"`
	ImpactedRepos      []string `json:"impacted_repos"`
	Duplicates         []string `json:"duplicates"`
	Errors             []string `json:"errors"`
	SummaryUpdated     bool     `json:"summary_updated"`
	CheckpointAdvanced bool     `json:"checkpoint_advanced"`
}

// writeReport persists the json and markdown views of the run. The report is
// written even when the run failed.
func writeReport(lay *layout.Layout, result *Result) error {
	now := time.Now()

	rep := report{
		Version:            1,
		GeneratedAt:        stamp.ISO(now),
		OK:                 result.OK,
		EventsConsumed:     result.EventsConsumed,
		ImpactedRepos:      result.ImpactedRepos,
		Duplicates:         result.Duplicates,
		Errors:             result.Errors,
		SummaryUpdated:     result.SummaryUpdated,
		CheckpointAdvanced: result.CheckpointAdvanced,
	}

	jsonPath := filepath.Join(lay.LogsDir(), reportBase+".json")

	err := fsutil.WriteJSONAtomic(jsonPath, rep)
	if err != nil {
		return err
	}

	mdPath := filepath.Join(lay.LogsDir(), reportBase+".md")

	mdErr := fsutil.WriteFileAtomic(mdPath, []byte(renderMarkdown(rep)))
	if mdErr != nil {
		return mdErr
	}

	result.ReportJSON = jsonPath
	result.ReportMarkdown = mdPath

	return nil
}

func renderMarkdown(rep report) string {
	var b strings.Builder

	b.WriteString("# Knowledge refresh from events\n\n")
	b.WriteString("- Generated: " + rep.GeneratedAt + "\n")
	b.WriteString(fmt.Sprintf("- OK: %v\n", rep.OK))
	b.WriteString(fmt.Sprintf("- Events consumed: %d\n", rep.EventsConsumed))
	b.WriteString(fmt.Sprintf("- Checkpoint advanced: %v\n", rep.CheckpointAdvanced))
	b.WriteString(fmt.Sprintf("- Summary updated: %v\n", rep.SummaryUpdated))

	if len(rep.ImpactedRepos) > 0 {
		b.WriteString("\n## Impacted repos\n\n")

		for _, id := range rep.ImpactedRepos {
			b.WriteString("- `" + id + "`\n")
		}
	}

	if len(rep.Duplicates) > 0 {
		b.WriteString("\n## Duplicate events skipped\n\n")

		for _, id := range rep.Duplicates {
			b.WriteString("- `" + id + "`\n")
		}
	}

	if len(rep.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")

		for _, msg := range rep.Errors {
			b.WriteString("- " + msg + "\n")
		}
	}

	return b.String()
}
