package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/lanekeeper/internal/indexer"
	"github.com/Sumatoshi-tech/lanekeeper/internal/registry"
)

// IndexCommand holds the flags for the index command.
type IndexCommand struct {
	dryRun  bool
	jsonOut bool
}

// NewIndexCommand creates and configures the index command.
func NewIndexCommand() *cobra.Command {
	cmd := &IndexCommand{}

	cobraCmd := &cobra.Command{
		Use:   "index [repo-id...]",
		Short: "Index registered repos at their active ref",
		Long: `Index the named repos, or every active registered repo when none are
named. Each run writes the repo_index and repo_fingerprints pair under the
repo's evidence directory; a failed run leaves the previous pair untouched.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Compute artifacts without writing them")
	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Emit per-repo results as JSON")

	return cobraCmd
}

// Run executes the index command.
func (c *IndexCommand) Run(cmd *cobra.Command, args []string) error {
	cfg, lay, logger, err := setup()
	if err != nil {
		return err
	}

	reg, regErr := registry.Load(lay.RegistryPath())
	if regErr != nil {
		return regErr
	}

	targets := args
	if len(targets) == 0 {
		for _, repo := range reg.Active() {
			targets = append(targets, repo.RepoID)
		}
	}

	known := make([]string, 0, len(reg.Active()))
	for _, repo := range reg.Active() {
		known = append(known, repo.RepoID)
	}

	results := make(map[string]*indexer.Result, len(targets))

	for _, repoID := range targets {
		repo, lookupErr := reg.Lookup(repoID)
		if lookupErr != nil {
			return lookupErr
		}

		result, indexErr := indexer.Index(cmd.Context(), indexer.Options{
			RepoID:       repoID,
			RepoPath:     repo.WorktreePath(cfg.ReposRoot),
			OutputDir:    lay.EvidenceDir(repoID),
			ErrorDir:     lay.LogsDir(),
			ActiveBranch: repo.ActiveBranch,
			KnownRepoIDs: known,
			DryRun:       c.dryRun,
		})
		if indexErr != nil {
			return fmt.Errorf("index %s: %w", repoID, indexErr)
		}

		results[repoID] = result

		logger.Info("indexed repo",
			"repo_id", repoID, "files", len(result.Index.Fingerprints), "head", result.Index.HeadSHA)
	}

	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), results)
	}

	for _, repoID := range targets {
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d files, head %s\n",
			repoID, len(results[repoID].Index.Fingerprints), results[repoID].Index.HeadSHA)
	}

	return nil
}
