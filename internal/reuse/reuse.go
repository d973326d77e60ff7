// Package reuse decides whether a previous run can stand in for a fresh scan.
//
// Decide is pure: it looks only at the run history, the current repository
// state and the policy. Reuse is all-or-nothing; any failing condition forces
// a fresh scan.
package reuse

import (
	"fmt"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/config"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
)

// Decision reasons. ReasonReused is the only reason with Reuse=true.
const (
	ReasonReused           = "reused"
	ReasonDisabled         = "disabled"
	ReasonNoHistory        = "no_history"
	ReasonTooOld           = "too_old"
	ReasonDrift            = "drift"
	ReasonArtifactsMissing = "artifacts_missing"
	ReasonRatioUnknown     = "cache_ratio_unknown"
	ReasonRatioLow         = "cache_ratio_low"
	// ReasonSourceMismatch and ReasonHintsImported are set by callers after
	// Decide chose reuse: the source run's scan graph failed verification, or
	// a strict run imported hints that a reused graph would drop.
	ReasonSourceMismatch = "source_mismatch"
	ReasonHintsImported  = "hints_imported"
)

// Policy configures reuse.
type Policy struct {
	Enabled          bool
	MaxAge           time.Duration
	DriftPolicy      string
	MinCacheHitRatio float64
}

// PolicyFromConfig maps the reuse config section onto a Policy. The enabled
// flag is the config value or the --smart-reuse flag.
func PolicyFromConfig(cfg config.ReuseConfig, flag bool) Policy {
	return Policy{
		Enabled:          cfg.Enabled || flag,
		MaxAge:           cfg.MaxAge,
		DriftPolicy:      cfg.DriftPolicy,
		MinCacheHitRatio: cfg.MinCacheHitRatio,
	}
}

// Current is the state of the repository right now.
type Current struct {
	// StateHash is the repository fingerprint state hash
	StateHash string
	// VCSHead is the HEAD commit, empty outside git
	VCSHead string
	// Exists reports whether an artifact path is still present
	Exists func(path string) bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Reuse bool `json:"reuse"`
	// SourceRunID is the history entry being reused
	SourceRunID string `json:"source_run_id,omitempty"`
	// OriginRunID is the run whose scan produced the artifacts
	OriginRunID string        `json:"origin_run_id,omitempty"`
	Reason      string        `json:"reason"`
	Detail      string        `json:"detail,omitempty"`
	Drift       bool          `json:"drift"`
	Age         time.Duration `json:"-"`
}

// Decide evaluates the newest successful run of history against the five
// reuse conditions, in order: history, age, drift, artifacts, cache ratio.
// history is newest first.
func Decide(history []registry.RunSummary, current Current, policy Policy, now time.Time) Decision {
	if !policy.Enabled {
		return Decision{Reason: ReasonDisabled}
	}

	var src *registry.RunSummary
	for i := range history {
		if history[i].Succeeded() {
			src = &history[i]
			break
		}
	}
	if src == nil {
		return Decision{Reason: ReasonNoHistory}
	}

	d := Decision{SourceRunID: src.RunID, OriginRunID: src.OriginRunID()}

	scannedAt := src.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = src.CreatedAt
	}
	d.Age = now.Sub(scannedAt)
	if d.Age < 0 || d.Age > policy.MaxAge {
		d.Reason = ReasonTooOld
		d.Detail = fmt.Sprintf("scan age %s, max %s", d.Age.Round(time.Second), policy.MaxAge)
		return d
	}

	if detail := drift(src, current); detail != "" {
		d.Drift = true
		d.Detail = detail
		if policy.DriftPolicy != config.DriftWarn {
			d.Reason = ReasonDrift
			return d
		}
	}

	if len(src.Artifacts) == 0 {
		d.Reason = ReasonArtifactsMissing
		d.Detail = "source run declares no artifacts"
		return d
	}
	for _, path := range src.Artifacts {
		if current.Exists == nil || !current.Exists(path) {
			d.Reason = ReasonArtifactsMissing
			d.Detail = path
			return d
		}
	}

	if src.CacheHitRatio == nil {
		d.Reason = ReasonRatioUnknown
		return d
	}
	if *src.CacheHitRatio < policy.MinCacheHitRatio {
		d.Reason = ReasonRatioLow
		d.Detail = fmt.Sprintf("cache hit ratio %.2f below %.2f", *src.CacheHitRatio, policy.MinCacheHitRatio)
		return d
	}

	d.Reuse = true
	d.Reason = ReasonReused
	return d
}

func drift(src *registry.RunSummary, current Current) string {
	if src.VCSHead != current.VCSHead {
		return fmt.Sprintf("vcs head %s -> %s", short(src.VCSHead), short(current.VCSHead))
	}
	if src.RepoFingerprint != current.StateHash {
		return "repository state changed"
	}
	return ""
}

func short(head string) string {
	if head == "" {
		return "none"
	}
	if len(head) > 12 {
		return head[:12]
	}
	return head
}
