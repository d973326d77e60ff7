// Package runner executes one governed scan invocation end to end:
// gate, read-only guard, smart reuse or scan, registry, federation and the
// machine contract.
//
// Nothing is written anywhere until every governance decision of the
// invocation has allowed it.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/config"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/contract"
	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/federation"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/guard"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/hints"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/reuse"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/slogutil"
)

// CommandScan is the command name recorded in run metadata.
const CommandScan = "scan"

// Options configures one scan invocation. Zero values fall back to config.
type Options struct {
	RepoPath string
	Paths    paths.Options
	// Config overrides loading <global>/config.*
	Config *config.Config

	PolicyPath string
	TokenPath  string

	Strict               bool
	SmartReuse           bool
	AllowWrite           bool
	Federate             bool
	HintBundle           string
	RequireScopeIdentity bool
	MaxFiles             int
	MaxDuration          time.Duration
	// Sources are hint sources merged into a fresh scan graph, in addition
	// to an imported hint bundle
	Sources []scangraph.HintSource

	// Stdout receives machine lines
	Stdout io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// Result describes a finished invocation.
type Result struct {
	Roots    *paths.Roots
	RunID    string
	Summary  *registry.RunSummary
	Graph    *scangraph.ScanGraph
	Reuse    *reuse.Decision
	Index    *federation.PublishResult
	Guard    *guard.Report
	Mismatch *scangraph.Mismatch
	Lines    []string
}

type invocation struct {
	opts    Options
	cfg     *config.Config
	strict  bool
	logger  *slog.Logger
	emitter *contract.Emitter
	now     func() time.Time
	res     *Result

	roots     *paths.Roots
	policy    *governance.Policy
	scan      governance.Decision
	fed       *governance.Decision
	imported  *hints.Imported
	startedAt time.Time
}

// Run executes a scan. Every failure is returned as a classified error and
// has already been reported as a human diagnostic and a BDK_STATUS line
// carrying the same reason.
func Run(ctx context.Context, opts Options) (*Result, error) {
	inv := &invocation{opts: opts, res: &Result{}}
	inv.logger = opts.Logger
	if inv.logger == nil {
		inv.logger = slogutil.NewDiscardLogger()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	inv.emitter = contract.NewEmitter(stdout)
	inv.now = opts.Now
	if inv.now == nil {
		inv.now = time.Now
	}
	inv.startedAt = inv.now().UTC()

	if err := inv.run(ctx); err != nil {
		inv.fail(err)
		return inv.res, err
	}
	return inv.res, nil
}

func (inv *invocation) run(ctx context.Context) error {
	if err := inv.prepare(); err != nil {
		return err
	}
	if err := inv.gate(ctx); err != nil {
		return err
	}

	var out *outcome
	report, err := guard.Run(ctx, inv.roots.RepoRoot, guard.Options{AllowWrite: inv.opts.AllowWrite},
		func(ctx context.Context, before *guard.Snapshot) error {
			var err error
			out, err = inv.execute(ctx, before)
			return err
		})
	inv.res.Guard = report
	if err != nil {
		return err
	}
	if report != nil && report.OptOut && !report.Verified() {
		inv.logger.Warn("Repository changed during an --allow-write run",
			"changes", len(report.Changes),
		)
	}

	return inv.commit(ctx, out, report)
}

// prepare resolves roots and loads config without touching the filesystem.
func (inv *invocation) prepare() error {
	repo := inv.opts.RepoPath
	if repo == "" {
		repo = "."
	}
	if info, err := os.Stat(repo); err != nil || !info.IsDir() {
		return bdkerrors.Newf(bdkerrors.InvalidInput, "invalid_repository", "%s is not a directory", repo)
	}

	roots, err := paths.Resolve(repo, inv.opts.Paths)
	if err != nil {
		return bdkerrors.New(bdkerrors.InvalidInput, "invalid_roots", "cannot resolve state roots", err)
	}
	inv.roots = roots
	inv.res.Roots = roots

	cfg := inv.opts.Config
	if cfg == nil {
		cfg, err = config.LoadConfig(roots.GlobalRoot)
		if err != nil {
			return bdkerrors.New(bdkerrors.InvalidInput, "config_invalid", "cannot load configuration", err)
		}
	}
	if inv.opts.MaxFiles > 0 {
		cfg.Scan.MaxFiles = inv.opts.MaxFiles
	}
	if inv.opts.MaxDuration > 0 {
		cfg.Scan.MaxDuration = inv.opts.MaxDuration
	}
	inv.cfg = cfg
	inv.strict = inv.opts.Strict || cfg.Strict

	inv.logger = inv.logger.With("project_id", roots.ProjectID)
	return nil
}

// gate evaluates every capability the invocation needs before any write.
func (inv *invocation) gate(ctx context.Context) error {
	path := inv.opts.PolicyPath
	if path == "" {
		path = inv.cfg.Governance.PolicyPath
	}
	policy, err := governance.Load(governance.LoadOptions{Path: path, GlobalRoot: inv.roots.GlobalRoot})
	if err != nil {
		inv.scan = governance.FailClosed(governance.CapabilityScan, err)
		return inv.block(inv.scan)
	}
	inv.policy = policy

	token, err := governance.LoadToken(inv.opts.TokenPath)
	if err != nil {
		return bdkerrors.New(bdkerrors.InvalidInput, "token_invalid", "cannot read governance token", err)
	}

	now := inv.now()
	inv.scan = governance.Evaluate(inv.roots.RepoRoot, policy, token, governance.CapabilityScan, now)
	if !inv.scan.Allowed() {
		return inv.block(inv.scan)
	}

	if inv.opts.Federate || inv.cfg.Federation.Enabled {
		d := governance.Evaluate(inv.roots.RepoRoot, policy, token, governance.CapabilityFederation, now)
		if !d.Allowed() && inv.strict {
			return inv.block(d)
		}
		inv.fed = &d
	}

	if inv.opts.HintBundle != "" {
		d := governance.Evaluate(inv.roots.RepoRoot, policy, token, governance.CapabilityHints, now)
		if !d.Allowed() && inv.strict {
			return inv.block(d)
		}
		imported, err := hints.Import(ctx, hints.ImportOptions{
			Path:                 inv.opts.HintBundle,
			ProjectID:            inv.roots.ProjectID,
			RequireScopeIdentity: inv.opts.RequireScopeIdentity,
			Strict:               inv.strict,
			Decision:             d,
			Logger:               inv.logger,
		})
		if err != nil {
			return err
		}
		inv.imported = imported
		inv.emitHints(contract.Hints{
			Direction:  "import",
			Path:       inv.opts.HintBundle,
			Digest:     importedDigest(imported),
			ProjectID:  inv.roots.ProjectID,
			Skipped:    imported.Skipped,
			SkipReason: imported.SkipReason,
			Signals:    importedSignals(imported),
		})
	}
	return nil
}

// block reports a governance denial and returns it as an error.
func (inv *invocation) block(d governance.Decision) error {
	err := d.Err()
	inv.emit(contract.KindGovBlock, contract.GovBlock{
		Capability: string(d.Capability),
		Decision:   string(d.Kind),
		Reason:     d.Reason,
		ExitCode:   bdkerrors.ExitCodeOf(err),
		Detail:     d.Detail,
		TokenUsed:  d.TokenUsed,
	})
	return err
}

// fail reports err on both channels.
func (inv *invocation) fail(err error) {
	reason := bdkerrors.ReasonOf(err)
	code := bdkerrors.ExitCodeOf(err)

	status := contract.StatusError
	var mismatch *scangraph.Mismatch
	var violation *guard.ViolationError
	switch c := bdkerrors.CodeOf(err); {
	case c == bdkerrors.GovernanceDisabled, c == bdkerrors.GovernanceDenied,
		c == bdkerrors.GovernanceNotAllowListed, c == bdkerrors.PolicyParseFailure,
		c == bdkerrors.FederationScopeBlocked, c == bdkerrors.HintBundleScopeBlocked:
		status = contract.StatusBlocked
	case errors.As(err, &mismatch):
		status = contract.StatusMismatch
		inv.emitMismatch(mismatch, "strict")
	case errors.As(err, &violation):
		status = contract.StatusViolation
	}

	attrs := []interface{}{"reason", reason, "exit_code", code}
	if mismatch != nil {
		attrs = append(attrs, "mismatch_reason", string(mismatch.Reason))
	}
	if bdkErr, ok := bdkerrors.As(err); ok && bdkErr.Fix != "" {
		attrs = append(attrs, "fix", bdkErr.Fix)
	}
	inv.logger.Error(err.Error(), attrs...)

	payload := contract.Status{
		Status:   status,
		ExitCode: code,
		Reason:   reason,
		Detail:   err.Error(),
		RunID:    inv.res.RunID,
	}
	if inv.roots != nil {
		payload.ProjectID = inv.roots.ProjectID
	}
	inv.emit(contract.KindStatus, payload)
}

func (inv *invocation) emit(kind contract.Kind, payload interface{}) {
	line, err := inv.emitter.Emit(kind, payload)
	if err != nil {
		inv.logger.Warn("Failed to write machine line", "kind", string(kind), "error", err)
		return
	}
	inv.res.Lines = append(inv.res.Lines, line)
}

func (inv *invocation) emitHints(h contract.Hints) {
	inv.emit(contract.KindHints, h)
}

func (inv *invocation) emitMismatch(m *scangraph.Mismatch, source string) {
	inv.logger.Warn("Scan graph mismatch",
		"mismatch_reason", string(m.Reason),
		"detail", m.Detail,
		"path", m.Path,
	)
	inv.emit(contract.KindMismatch, contract.MismatchRecord{
		MismatchReason: string(m.Reason),
		Detail:         m.Detail,
		Path:           m.Path,
		Expected:       m.Expected,
		Observed:       m.Observed,
		Source:         source,
	})
}

func importedDigest(i *hints.Imported) string {
	if i == nil || i.Bundle == nil {
		return ""
	}
	return i.Bundle.Digest
}

func importedSignals(i *hints.Imported) int {
	if i == nil || i.Bundle == nil {
		return 0
	}
	n := 0
	for _, signals := range i.Bundle.Hints {
		n += len(signals)
	}
	return n
}
