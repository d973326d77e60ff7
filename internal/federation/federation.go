package federation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/config"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
)

// Store is a federated index backend. Upsert is all-or-nothing.
type Store interface {
	Upsert(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Match, error)
	All(ctx context.Context) ([]Entry, error)
	Path() string
	Close() error
}

// Open returns the configured backend under globalRoot. No file is created
// until the first Upsert.
func Open(globalRoot string, cfg config.FederationConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendJSON, "":
		return NewJSONStore(filepath.Join(globalRoot, paths.FederatedIndexJSON), cfg.MaxEntries), nil
	case config.BackendSQLite:
		return NewSQLiteStore(filepath.Join(globalRoot, paths.FederatedIndexDB), cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown federation backend %q", cfg.Backend)
	}
}

// PublishResult reports what Publish did.
type PublishResult struct {
	Published  bool   `json:"published"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Publish upserts e when the federation decision allows it. A missing scope
// is fatal under strict mode and a logged skip otherwise; either way the
// store is not touched.
func Publish(ctx context.Context, store Store, e Entry, decision governance.Decision, strict bool, logger *slog.Logger) (*PublishResult, error) {
	if !decision.Allowed() {
		if strict {
			return nil, decision.Err()
		}
		logger.Warn("Federation skipped",
			"reason", decision.Reason,
			"detail", decision.Detail,
		)
		return &PublishResult{Skipped: true, SkipReason: decision.Reason}, nil
	}

	if err := store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("federation upsert: %w", err)
	}
	logger.Debug("Federated index updated",
		"project_id", e.ProjectID,
		"run_id", e.RunID,
		"path", store.Path(),
	)
	return &PublishResult{Published: true, Path: store.Path()}, nil
}
