// Package hints writes and imports digest-verified hint bundles.
package hints

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/fsutil"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/jcs"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/version"
)

// SchemaVersion of the hint bundle document.
const SchemaVersion = 1

// Reasons carried by bundle failures.
const (
	ReasonDigestMismatch    = "hint_bundle_digest_mismatch"
	ReasonUnreadable        = "hint_bundle_unreadable"
	ReasonScopeIdentity     = "scope_identity_mismatch"
	ReasonUnsupportedSchema = "hint_bundle_schema_unsupported"
)

// Bundle is a portable set of content hints produced by one run.
type Bundle struct {
	SchemaVersion int                 `json:"schema_version"`
	ProjectID     string              `json:"project_id"`
	RunID         string              `json:"run_id"`
	Producer      string              `json:"producer"`
	CreatedAt     time.Time           `json:"created_at"`
	Hints         map[string][]string `json:"hints"`
	Digest        string              `json:"digest"`
}

// New builds a bundle over hints and seals it with its digest.
func New(projectID, runID string, hints map[string][]string, now time.Time) (*Bundle, error) {
	b := &Bundle{
		SchemaVersion: SchemaVersion,
		ProjectID:     projectID,
		RunID:         runID,
		Producer:      version.HintsProducer,
		CreatedAt:     now.UTC(),
		Hints:         normalize(hints),
	}
	digest, err := Digest(b.Hints)
	if err != nil {
		return nil, err
	}
	b.Digest = digest
	return b, nil
}

// Digest is the JCS sha256 of the hints map.
func Digest(hints map[string][]string) (string, error) {
	if hints == nil {
		hints = map[string][]string{}
	}
	return jcs.Digest(hints)
}

// Verify recomputes the digest and compares it with the recorded one.
func (b *Bundle) Verify() error {
	if b.SchemaVersion < 1 || b.SchemaVersion > SchemaVersion {
		return bdkerrors.Newf(bdkerrors.HintBundleVerification, ReasonUnsupportedSchema,
			"hint bundle schema_version %d is not supported", b.SchemaVersion)
	}
	digest, err := Digest(b.Hints)
	if err != nil {
		return bdkerrors.New(bdkerrors.HintBundleVerification, ReasonDigestMismatch, "hint bundle digest could not be computed", err)
	}
	if digest != b.Digest {
		return bdkerrors.New(bdkerrors.HintBundleVerification, ReasonDigestMismatch, "hint bundle digest does not match its hints", nil).
			WithDetails(map[string]string{"expected": digest, "recorded": b.Digest}).
			WithFix("regenerate the bundle; it was edited or truncated after it was written")
	}
	return nil
}

// Write stores the bundle atomically.
func Write(path string, b *Bundle) error {
	if err := fsutil.WriteJSONAtomic(path, b); err != nil {
		return fmt.Errorf("write hint bundle: %w", err)
	}
	return nil
}

// Load reads a bundle without verifying it. Unreadable or malformed files
// fail verification (exit 22).
func Load(path string) (*Bundle, error) {
	var b Bundle
	if err := fsutil.ReadJSON(path, &b); err != nil {
		return nil, bdkerrors.New(bdkerrors.HintBundleVerification, ReasonUnreadable, fmt.Sprintf("hint bundle %s cannot be read", path), err)
	}
	return &b, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	Path                 string
	ProjectID            string
	RequireScopeIdentity bool
	Strict               bool
	// Decision is the governance decision for the hints capability.
	Decision governance.Decision
	Logger   *slog.Logger
}

// Imported is the outcome of Import.
type Imported struct {
	Bundle  *Bundle
	Skipped bool
	// SkipReason is the governance reason when the import was skipped.
	SkipReason string
}

// Source adapts the imported bundle to a scan graph hint source. It returns
// nil when the import was skipped.
func (i *Imported) Source() scangraph.HintSource {
	if i == nil || i.Skipped || i.Bundle == nil {
		return nil
	}
	return scangraph.StaticSource{Label: "hint_bundle:" + i.Bundle.RunID, Signals: i.Bundle.Hints}
}

// Import gates, loads and verifies an external bundle. A missing hints scope
// blocks under strict mode and is skipped with a warning otherwise; the file
// is not opened in either case.
func Import(ctx context.Context, opts ImportOptions) (*Imported, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !opts.Decision.Allowed() {
		if opts.Strict {
			return nil, opts.Decision.Err()
		}
		logger.Warn("Hint bundle import skipped: hints scope not granted",
			"reason", opts.Decision.Reason,
			"path", opts.Path,
		)
		return &Imported{Skipped: true, SkipReason: opts.Decision.Reason}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := Load(opts.Path)
	if err != nil {
		return nil, err
	}
	if err := b.Verify(); err != nil {
		return nil, err
	}

	if b.ProjectID != opts.ProjectID {
		if opts.RequireScopeIdentity {
			return nil, bdkerrors.Newf(bdkerrors.ScopeIdentityMismatch, ReasonScopeIdentity,
				"hint bundle belongs to project %s, not %s", b.ProjectID, opts.ProjectID).
				WithFix("import a bundle produced for this repository or drop --require-scope-identity")
		}
		logger.Warn("Hint bundle was produced for another project",
			"bundle_project", b.ProjectID,
			"project", opts.ProjectID,
		)
	}
	return &Imported{Bundle: b}, nil
}

func normalize(hints map[string][]string) map[string][]string {
	out := make(map[string][]string, len(hints))
	for kind, signals := range hints {
		sorted := append([]string(nil), signals...)
		sort.Strings(sorted)
		dedup := make([]string, 0, len(sorted))
		for _, s := range sorted {
			if len(dedup) == 0 || s != dedup[len(dedup)-1] {
				dedup = append(dedup, s)
			}
		}
		out[kind] = dedup
	}
	return out
}
