package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
)

var (
	runsJSON   bool
	runsOutput string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List the run history of a repository, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsList,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run_id> [path]",
	Short: "Export one run as a zstd-compressed JSONL audit bundle",
	Long: `Export a run's metadata, history summary and artifacts as one
zstd-compressed JSONL file. Artifacts that no longer exist are listed as
missing.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRunsExport,
}

func init() {
	runsListCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	runsExportCmd.Flags().StringVarP(&runsOutput, "output", "o", "", "Write the bundle to this file instead of stdout")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsExportCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRegistry(cmd *cobra.Command, repo string) (*registry.Registry, *paths.Roots, error) {
	roots, err := paths.Resolve(repo, pathOptions())
	if err != nil {
		return nil, nil, bdkerrors.New(bdkerrors.InvalidInput, "invalid_roots", "cannot resolve state roots", err)
	}
	cfg := peekConfig(repo)
	maxRuns := 0
	if cfg != nil {
		maxRuns = cfg.Registry.MaxRuns
	}
	return registry.New(roots.GlobalRoot, maxRuns, newLogger(cmd.ErrOrStderr(), levelOf(cfg))), roots, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	reg, roots, err := openRegistry(cmd, repoArg(args))
	if err != nil {
		return err
	}
	history, err := reg.History(roots.ProjectID)
	if err != nil {
		return err
	}
	if runsJSON {
		if history == nil {
			history = []registry.RunSummary{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	return printRuns(cmd.OutOrStdout(), history)
}

func printRuns(w io.Writer, history []registry.RunSummary) error {
	if len(history) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tOUTCOME\tCREATED\tFILES\tREADS\tCONFIDENCE\tREUSED FROM")
	for _, s := range history {
		reusedFrom := s.ReusedFrom
		if reusedFrom == "" {
			reusedFrom = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			s.RunID, s.Outcome, s.CreatedAt.UTC().Format(time.RFC3339),
			s.FileCount, s.ContentReads, s.ConfidenceTier, reusedFrom)
	}
	return tw.Flush()
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	runID := args[0]
	repo := "."
	if len(args) > 1 {
		repo = args[1]
	}
	reg, roots, err := openRegistry(cmd, repo)
	if err != nil {
		return err
	}
	if _, err := reg.ReadRunMeta(roots.ProjectID, runID); errors.Is(err, os.ErrNotExist) {
		return bdkerrors.Newf(bdkerrors.InvalidInput, "run_not_found", "run %s is not recorded for %s", runID, roots.RepoRoot).
			WithFix("list recorded runs with bdk runs list")
	}

	if runsOutput == "" {
		return reg.ExportRun(roots.ProjectID, runID, cmd.OutOrStdout())
	}
	// refuse to drop the bundle inside the repository being audited
	if out, err := paths.RealPath(runsOutput); err == nil && paths.IsWithin(out, roots.RepoRoot) {
		return bdkerrors.Newf(bdkerrors.InvalidInput, "output_in_repository",
			"%s is inside the target repository", runsOutput)
	}
	f, err := os.Create(runsOutput)
	if err != nil {
		return fmt.Errorf("create %s: %w", runsOutput, err)
	}
	if err := reg.ExportRun(roots.ProjectID, runID, f); err != nil {
		f.Close()
		_ = os.Remove(runsOutput)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", runsOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", runID, runsOutput)
	return nil
}
