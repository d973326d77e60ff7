package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/runner"
)

var (
	scanStrict               bool
	scanSmartReuse           bool
	scanAllowWrite           bool
	scanFederate             bool
	scanRequireScopeIdentity bool
	scanPolicy               string
	scanTokenFile            string
	scanHintBundle           string
	scanMaxFiles             int
	scanMaxDuration          time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a repository and record its capabilities",
	Long: `Scan a repository read-only and record the result in the capability registry.

The scan is refused unless the governance policy allows the repository. With
--smart-reuse an unchanged repository reuses the previous run instead of
scanning again. Results are reported as BDK_* lines on stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.BoolVar(&scanStrict, "strict", false, "Fail on ambiguity, low confidence, truncation, mismatches and blocked scopes")
	f.BoolVar(&scanSmartReuse, "smart-reuse", false, "Reuse the previous run when the repository is unchanged")
	f.BoolVar(&scanAllowWrite, "allow-write", false, "Report instead of fail when the repository changes during the scan")
	f.BoolVar(&scanFederate, "federate", false, "Publish the run to the federated index")
	f.BoolVar(&scanRequireScopeIdentity, "require-scope-identity", false, "Reject hint bundles produced for another project")
	f.StringVar(&scanPolicy, "policy", "", "Governance policy document (default: $BDK_POLICY or <state-dir>/policy.toml)")
	f.StringVar(&scanTokenFile, "token-file", "", "Governance override token (default: $BDK_TOKEN)")
	f.StringVar(&scanHintBundle, "hint-bundle", "", "Import an external hint bundle")
	f.IntVar(&scanMaxFiles, "max-files", 0, "Stop the walk after this many files (default from config)")
	f.DurationVar(&scanMaxDuration, "max-duration", 0, "Stop the walk after this long (default from config)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	repo := repoArg(args)
	cfg := peekConfig(repo)
	logger := newLogger(cmd.ErrOrStderr(), levelOf(cfg))

	_, err := runner.Run(cmd.Context(), runner.Options{
		RepoPath:             repo,
		Paths:                pathOptions(),
		Config:               cfg,
		PolicyPath:           scanPolicy,
		TokenPath:            scanTokenFile,
		Strict:               scanStrict,
		SmartReuse:           scanSmartReuse,
		AllowWrite:           scanAllowWrite,
		Federate:             scanFederate,
		HintBundle:           scanHintBundle,
		RequireScopeIdentity: scanRequireScopeIdentity,
		MaxFiles:             scanMaxFiles,
		MaxDuration:          scanMaxDuration,
		Stdout:               cmd.OutOrStdout(),
		Logger:               logger,
	})
	return reported(err)
}
