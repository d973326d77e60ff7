package scangraph

import (
	"fmt"
	"maps"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

// MismatchReason enumerates why expected and observed graph state differ.
// ReasonUnknown is a valid terminal value.
type MismatchReason string

const (
	ReasonFingerprintMismatch MismatchReason = "fingerprint_mismatch"
	ReasonProducerMismatch    MismatchReason = "producer_version_mismatch"
	ReasonCacheCorrupt        MismatchReason = "cache_corrupt"
	ReasonSchemaMismatch      MismatchReason = "schema_mismatch"
	ReasonUnknown             MismatchReason = "unknown"
)

// Mismatch describes one consistency failure between expected and observed
// scan graph state.
type Mismatch struct {
	Reason   MismatchReason `json:"mismatch_reason"`
	Detail   string         `json:"detail"`
	Path     string         `json:"path,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Observed string         `json:"observed,omitempty"`
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("%s: %s", m.Reason, m.Detail)
}

// Err converts the mismatch into the strict-mode failure (exit 25).
func (m *Mismatch) Err() error {
	return bdkerrors.New(
		bdkerrors.GraphMismatch,
		string(m.Reason),
		"scan graph consistency mismatch",
		m,
	).WithDetails(m).WithFix("rerun without --strict to rebuild the scan graph, or remove the workspace scan cache")
}

// Expectation is the graph state a caller expects to observe.
type Expectation struct {
	SchemaVersion    int
	ProducerVersions map[string]string
	// GraphFingerprint is optional; empty skips the comparison.
	GraphFingerprint string
}

// Verify checks a loaded graph against an expectation and against itself.
// It returns nil when the graph is consistent.
func Verify(graph *ScanGraph, want Expectation, source string) *Mismatch {
	if graph == nil {
		return &Mismatch{Reason: ReasonUnknown, Detail: "no scan graph to verify", Path: source}
	}
	if graph.SchemaVersion != want.SchemaVersion {
		return &Mismatch{
			Reason:   ReasonSchemaMismatch,
			Detail:   "scan graph schema version differs",
			Path:     source,
			Expected: fmt.Sprint(want.SchemaVersion),
			Observed: fmt.Sprint(graph.SchemaVersion),
		}
	}
	if !maps.Equal(graph.ProducerVersions, want.ProducerVersions) {
		return &Mismatch{
			Reason:   ReasonProducerMismatch,
			Detail:   "scan graph was produced by different producer versions",
			Path:     source,
			Expected: fmt.Sprint(want.ProducerVersions),
			Observed: fmt.Sprint(graph.ProducerVersions),
		}
	}

	recomputed, err := graph.RecomputeFingerprint()
	if err != nil {
		return &Mismatch{Reason: ReasonUnknown, Detail: err.Error(), Path: source}
	}
	if recomputed != graph.GraphFingerprint {
		return &Mismatch{
			Reason:   ReasonCacheCorrupt,
			Detail:   "stored graph_fingerprint does not match the recomputed one",
			Path:     source,
			Expected: recomputed,
			Observed: graph.GraphFingerprint,
		}
	}
	if want.GraphFingerprint != "" && want.GraphFingerprint != graph.GraphFingerprint {
		return &Mismatch{
			Reason:   ReasonFingerprintMismatch,
			Detail:   "scan graph fingerprint differs from the recorded run",
			Path:     source,
			Expected: want.GraphFingerprint,
			Observed: graph.GraphFingerprint,
		}
	}
	return nil
}
