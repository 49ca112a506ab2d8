package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/orchestrator"
)

// OrchestrateCommand holds the flags for the orchestrate command.
type OrchestrateCommand struct {
	limit   int
	dryRun  bool
	jsonOut bool
}

// NewOrchestrateCommand creates and configures the orchestrate command.
func NewOrchestrateCommand() *cobra.Command {
	cmd := &OrchestrateCommand{}

	cobraCmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run one Lane A orchestrator tick",
		Long: `Run one orchestrator tick: acquire the lane lock, compute the evidence
state, decide the next action, persist the state artifacts, and execute the
action. A tick that finds the lock held by a live process is a clean skip.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().IntVar(&cmd.limit, "limit", 0, "Cap targets and consumed events per tick (0 = unlimited)")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Decide and persist state without executing the action")
	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit the tick result as JSON")

	return cobraCmd
}

// Run executes the orchestrate command.
func (c *OrchestrateCommand) Run(cmd *cobra.Command, _ []string) error {
	cfg, _, logger, err := setup()
	if err != nil {
		return err
	}

	o := orchestrator.New(cfg, logger)
	o.Limit = c.limit
	o.DryRun = c.dryRun

	result, orchErr := o.Orchestrate(cmd.Context())
	if orchErr != nil {
		return orchErr
	}

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), result)
	}

	c.render(cmd, result)

	if !result.OK {
		return fmt.Errorf("tick failed: %s", result.Message)
	}

	return nil
}

func (c *OrchestrateCommand) render(cmd *cobra.Command, result *orchestrator.Result) {
	out := cmd.OutOrStdout()

	if result.Skipped {
		fmt.Fprintf(out, "skipped: %s\n", result.Reason)

		return
	}

	if !result.OK {
		return
	}

	fmt.Fprintf(out, "stage: %s\n", result.Stage)
	fmt.Fprintf(out, "action: %s", result.NextAction.Type)

	if len(result.NextAction.TargetRepos) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(result.NextAction.TargetRepos, ", "))
	}

	fmt.Fprintf(out, "\nreason: %s\n", result.NextAction.Reason)

	for _, line := range result.Logs {
		fmt.Fprintf(out, "  %s\n", line)
	}
}
