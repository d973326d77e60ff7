package runner

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/contract"
	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/slogutil"
)

// StatusOptions locates the project whose latest run is reported.
type StatusOptions struct {
	RepoPath string
	Paths    paths.Options
	// SummaryJSON writes the run summary as indented JSON instead of the
	// BDK_CAPS line. Failures are BDK_STATUS lines either way.
	SummaryJSON bool
	Stdout      io.Writer
	Logger      *slog.Logger
}

// StatusResult is the latest pointer and the run summary it refers to.
type StatusResult struct {
	Roots   *paths.Roots
	Latest  *registry.Pointer
	Summary *registry.RunSummary
}

// Status reports the latest successful run of a repository as a BDK_CAPS
// line. It only reads; a project without runs is an error. A failure is
// logged and written as a BDK_STATUS line carrying the same reason.
func Status(opts StatusOptions) (*StatusResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	emitter := contract.NewEmitter(stdout)

	res, err := latestRun(opts, logger)
	if err != nil {
		var projectID string
		if res != nil && res.Roots != nil {
			projectID = res.Roots.ProjectID
		}
		ReportFailure(emitter, logger, err, projectID)
		return nil, err
	}
	if opts.SummaryJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary); err != nil {
			return nil, err
		}
	} else if _, err := emitter.Emit(contract.KindCaps, capsLine(res.Roots.ProjectID, res.Summary)); err != nil {
		return nil, err
	}
	logger.Debug("Latest run", "run_id", res.Latest.RunID, "outcome", res.Summary.Outcome)
	return res, nil
}

// latestRun prefers <project>/latest.json and falls back to the index entry.
// On failure the result carries whatever roots were resolved.
func latestRun(opts StatusOptions, logger *slog.Logger) (*StatusResult, error) {
	repo := opts.RepoPath
	if repo == "" {
		repo = "."
	}
	roots, err := paths.Resolve(repo, opts.Paths)
	if err != nil {
		return nil, bdkerrors.New(bdkerrors.InvalidInput, "invalid_roots", "cannot resolve state roots", err)
	}
	res := &StatusResult{Roots: roots}

	reg := registry.New(roots.GlobalRoot, 0, logger)
	latest, err := reg.ReadLatest(roots.ProjectID)
	if err != nil {
		return res, err
	}
	entry, err := reg.Entry(roots.ProjectID)
	if err != nil {
		return res, err
	}
	if latest == nil && entry != nil {
		latest = entry.Latest
	}
	if latest == nil {
		return res, bdkerrors.Newf(bdkerrors.InvalidInput, "no_runs", "no runs recorded for %s", roots.RepoRoot).
			WithFix("run bdk scan first")
	}
	res.Latest = latest

	if entry != nil {
		res.Summary = findRun(entry.Runs, latest.RunID)
	}
	if res.Summary == nil {
		// history was trimmed below the latest run; report the pointer alone
		res.Summary = &registry.RunSummary{
			RunID:        latest.RunID,
			CreatedAt:    latest.CreatedAt,
			Capabilities: latest.PathToCapabilities,
		}
	}
	return res, nil
}

// ReportFailure writes err as a human diagnostic on logger and as a
// BDK_STATUS error line on emitter, both carrying the same reason.
func ReportFailure(emitter *contract.Emitter, logger *slog.Logger, err error, projectID string) {
	reason := bdkerrors.ReasonOf(err)
	code := bdkerrors.ExitCodeOf(err)
	attrs := []interface{}{"reason", reason, "exit_code", code}
	if bdkErr, ok := bdkerrors.As(err); ok && bdkErr.Fix != "" {
		attrs = append(attrs, "fix", bdkErr.Fix)
	}
	logger.Error(err.Error(), attrs...)

	if _, emitErr := emitter.Emit(contract.KindStatus, contract.Status{
		Status:    contract.StatusError,
		ExitCode:  code,
		Reason:    reason,
		Detail:    err.Error(),
		ProjectID: projectID,
	}); emitErr != nil {
		logger.Warn("Failed to write machine line", "kind", string(contract.KindStatus), "error", emitErr)
	}
}
