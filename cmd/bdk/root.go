package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/config"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/contract"
	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/slogutil"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/version"
)

var (
	verbosity    int
	quiet        bool
	stateDir     string
	workspaceDir string
)

var rootCmd = &cobra.Command{
	Use:   "bdk",
	Short: "bdk - governed repository scanning and capability registry",
	Long: `bdk scans a target repository without modifying it, records what it found in a
durable capability registry outside the repository, and reports results as
versioned machine lines on stdout.

Every command that writes state is gated by a governance policy.`,
	Version:       version.Info(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.SetVersionTemplate("bdk version {{.Version}}\n")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all logs")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Global-state root (default: $BDK_HOME or ~/.bdk/state)")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "Workspace root (default: $BDK_WORKSPACE/<project> or ~/.bdk/workspace/<project>)")
}

// reportedError marks an error whose diagnostic was already written.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// execute runs the command tree and maps the outcome to an exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return bdkerrors.ExitOK
	}
	var r *reportedError
	if !errors.As(err, &r) {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		if bdkErr, ok := bdkerrors.As(err); ok && bdkErr.Fix != "" {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Fix: %s\n", bdkErr.Fix)
		}
		emitFailure(rootCmd.OutOrStdout(), err)
	}
	return bdkerrors.ExitCodeOf(err)
}

// emitFailure writes the BDK_STATUS record of a command that failed before
// reporting on its own.
func emitFailure(w io.Writer, err error) {
	_, _ = contract.NewEmitter(w).Emit(contract.KindStatus, contract.Status{
		Status:   contract.StatusError,
		ExitCode: bdkerrors.ExitCodeOf(err),
		Reason:   bdkerrors.ReasonOf(err),
		Detail:   err.Error(),
	})
}

func pathOptions() paths.Options {
	return paths.Options{StateDir: stateDir, WorkspaceDir: workspaceDir}
}

func repoArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// newLogger writes human diagnostics to stderr. configured is the
// logging.level from config, used when no verbosity flag was given.
func newLogger(w io.Writer, configured string) *slog.Logger {
	return slogutil.NewLogger(w, slogutil.LevelFromVerbosity(verbosity, quiet, configured))
}

// peekConfig loads the configuration of the state root a repository resolves
// to. It never fails: callers that need a hard error load it again.
func peekConfig(repo string) *config.Config {
	roots, err := paths.Resolve(repo, pathOptions())
	if err != nil {
		return nil
	}
	cfg, err := config.LoadConfig(roots.GlobalRoot)
	if err != nil {
		return nil
	}
	return cfg
}

// globalConfig resolves the global-state root alone, for commands that are
// not bound to one repository.
func globalConfig() (string, *config.Config, error) {
	global, err := paths.ResolveGlobal(stateDir)
	if err != nil {
		return "", nil, bdkerrors.New(bdkerrors.InvalidInput, "invalid_roots", "cannot resolve global-state root", err)
	}
	cfg, err := config.LoadConfig(global)
	if err != nil {
		return "", nil, bdkerrors.New(bdkerrors.InvalidInput, "config_invalid", "cannot load configuration", err)
	}
	return global, cfg, nil
}

func levelOf(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Logging.Level
}
