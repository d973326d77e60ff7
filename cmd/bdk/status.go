package main

import (
	"github.com/spf13/cobra"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/runner"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show the latest recorded run of a repository",
	Long:  "Print the BDK_CAPS line of the latest run. Nothing is scanned or written.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the run summary as JSON instead")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	repo := repoArg(args)
	logger := newLogger(cmd.ErrOrStderr(), levelOf(peekConfig(repo)))

	_, err := runner.Status(runner.StatusOptions{
		RepoPath:    repo,
		Paths:       pathOptions(),
		SummaryJSON: statusJSON,
		Stdout:      cmd.OutOrStdout(),
		Logger:      logger,
	})
	return reported(err)
}
