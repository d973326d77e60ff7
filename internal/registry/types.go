package registry

import (
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
)

// Document schema versions.
const (
	IndexSchemaVersion        = 1
	RunMetaSchemaVersion      = 1
	CapabilitiesSchemaVersion = 1
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeReused  = "reused"
)

// Pointer references the capabilities document of one run. The same shape
// is stored as <project>/latest.json and as the latest field of an index
// entry.
type Pointer struct {
	RunID              string    `json:"run_id"`
	PathToCapabilities string    `json:"path_to_capabilities"`
	CreatedAt          time.Time `json:"created_at"`
}

// RunSummary is one entry of a project's bounded run history.
type RunSummary struct {
	RunID   string `json:"run_id"`
	Command string `json:"command"`
	Outcome string `json:"outcome"`
	// CreatedAt is when this run finished; ScannedAt is when the scan whose
	// artifacts it references ran. They differ for reused runs.
	CreatedAt        time.Time `json:"created_at"`
	ScannedAt        time.Time `json:"scanned_at"`
	RepoFingerprint  string    `json:"repo_fingerprint"`
	GraphFingerprint string    `json:"graph_fingerprint"`
	VCSHead          string    `json:"vcs_head,omitempty"`
	CacheKey         string    `json:"cache_key"`
	CacheHitRatio    *float64  `json:"cache_hit_ratio"`
	FileCount        int       `json:"file_count"`
	ContentReads     int       `json:"content_reads"`
	ConfidenceTier   string    `json:"confidence_tier"`
	Ambiguity        int       `json:"ambiguity"`
	Reused           bool      `json:"reused"`
	ReusedFrom       string    `json:"reused_from,omitempty"`
	Drift            bool      `json:"drift,omitempty"`
	ReadOnlyOptOut   bool      `json:"readonly_opt_out,omitempty"`
	Capabilities     string    `json:"capabilities"`
	ScanGraph        string    `json:"scan_graph"`
	Artifacts        []string  `json:"artifacts"`
}

// Succeeded reports whether the run may serve as a reuse source.
func (s RunSummary) Succeeded() bool {
	return s.Outcome == OutcomeSuccess || s.Outcome == OutcomeReused
}

// OriginRunID is the run whose scan produced the referenced artifacts.
func (s RunSummary) OriginRunID() string {
	if s.ReusedFrom != "" {
		return s.ReusedFrom
	}
	return s.RunID
}

// Entry is the capability index record of one project.
type Entry struct {
	ProjectID string `json:"project_id"`
	RepoRoot  string `json:"repo_root"`
	// RepoFingerprint is the repository state of the latest run.
	RepoFingerprint    string              `json:"repo_fingerprint"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Latest             *Pointer            `json:"latest"`
	Runs               []RunSummary        `json:"runs"`
	Versions           map[string]string   `json:"versions"`
	GovernanceSnapshot governance.Snapshot `json:"governance_snapshot"`
}

// Index is the capability_index.json document.
type Index struct {
	SchemaVersion int               `json:"schema_version"`
	Projects      map[string]*Entry `json:"projects"`
}

// Artifact is one file in a run's manifest.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// ReadOnlyEvidence records the guard's before/after comparison.
type ReadOnlyEvidence struct {
	BeforeDigest string   `json:"before_digest"`
	AfterDigest  string   `json:"after_digest"`
	Verified     bool     `json:"verified"`
	OptOut       bool     `json:"readonly_opt_out"`
	Changed      []string `json:"changed,omitempty"`
}

// RunMeta is the immutable audit record stored at
// <project>/runs/<run_id>/run_meta.json.
type RunMeta struct {
	SchemaVersion     int                 `json:"schema_version"`
	RunID             string              `json:"run_id"`
	ProjectID         string              `json:"project_id"`
	Command           string              `json:"command"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
	Outcome           string              `json:"outcome"`
	ArtifactsManifest []Artifact          `json:"artifacts_manifest"`
	ScanGraphRef      string              `json:"scan_graph_ref"`
	ReusedFrom        string              `json:"reused_from,omitempty"`
	ReadOnly          ReadOnlyEvidence    `json:"readonly"`
	Governance        governance.Snapshot `json:"governance"`
	Versions          map[string]string   `json:"versions"`
}

// Capabilities is the per-run capabilities.json document consumers read
// instead of walking the repository.
type Capabilities struct {
	SchemaVersion    int                        `json:"schema_version"`
	RunID            string                     `json:"run_id"`
	ProjectID        string                     `json:"project_id"`
	RepoRoot         string                     `json:"repo_root"`
	CreatedAt        time.Time                  `json:"created_at"`
	RepoFingerprint  string                     `json:"repo_fingerprint"`
	GraphFingerprint string                     `json:"graph_fingerprint"`
	VCSHead          string                     `json:"vcs_head,omitempty"`
	PrimaryLanguage  string                     `json:"primary_language,omitempty"`
	Languages        map[string]int             `json:"languages"`
	FileCounts       map[scangraph.Category]int `json:"file_counts"`
	ContentHints     map[string][]string        `json:"content_hints"`
	ConfidenceTier   string                     `json:"confidence_tier"`
	Ambiguity        int                        `json:"ambiguity"`
	Truncated        bool                       `json:"truncated"`
	IOStats          scangraph.IOStats          `json:"io_stats"`
}

// CapabilitiesFromGraph derives the capabilities document of a fresh scan.
func CapabilitiesFromGraph(runID, projectID, repoRoot, repoFingerprint, vcsHead string, g *scangraph.ScanGraph, now time.Time) *Capabilities {
	counts := make(map[scangraph.Category]int, len(g.FileIndex))
	for category, files := range g.FileIndex {
		counts[category] = len(files)
	}
	return &Capabilities{
		SchemaVersion:    CapabilitiesSchemaVersion,
		RunID:            runID,
		ProjectID:        projectID,
		RepoRoot:         repoRoot,
		CreatedAt:        now.UTC(),
		RepoFingerprint:  repoFingerprint,
		GraphFingerprint: g.GraphFingerprint,
		VCSHead:          vcsHead,
		PrimaryLanguage:  g.PrimaryLanguage,
		Languages:        g.Languages,
		FileCounts:       counts,
		ContentHints:     g.ContentHints,
		ConfidenceTier:   g.ConfidenceTier,
		Ambiguity:        g.Ambiguity,
		Truncated:        g.Truncated,
		IOStats:          g.IOStats,
	}
}
