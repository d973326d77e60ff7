// Package scangraph builds the single-pass, fingerprinted index of a target
// repository and keeps its per-file hint cache.
package scangraph

import (
	"sort"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/guard"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/jcs"
)

// SchemaVersion is the version of the scan graph and cache entry documents.
const SchemaVersion = 2

// Confidence tiers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// FileMeta is the indexed metadata of one file.
type FileMeta struct {
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	ModNS    int64    `json:"mod_ns"`
	Category Category `json:"category"`
	Language string   `json:"language,omitempty"`
}

// IOStats reports the filesystem work a build performed.
type IOStats struct {
	FilesWalked  int   `json:"files_walked"`
	ContentReads int   `json:"content_reads"`
	BytesRead    int64 `json:"bytes_read"`
	CacheHits    int   `json:"cache_hits"`
	// CacheHitRatio is nil when the ratio is unknown, for instance after a
	// truncated walk.
	CacheHitRatio *float64 `json:"cache_hit_ratio"`
	Walks         int      `json:"walks"`
	DurationMS    int64    `json:"duration_ms"`
}

// ScanGraph is the immutable result of one build.
type ScanGraph struct {
	SchemaVersion    int                   `json:"schema_version"`
	ProducerVersions map[string]string     `json:"producer_versions"`
	Roots            []string              `json:"roots"`
	FileIndex        map[Category][]string `json:"file_index"`
	Languages        map[string]int        `json:"languages"`
	PrimaryLanguage  string                `json:"primary_language,omitempty"`
	ContentHints     map[string][]string   `json:"content_hints"`
	IOStats          IOStats               `json:"io_stats"`
	CacheKey         string                `json:"cache_key"`
	GraphFingerprint string                `json:"graph_fingerprint"`
	ConfidenceTier   string                `json:"confidence_tier"`
	Ambiguity        int                   `json:"ambiguity"`
	Truncated        bool                  `json:"truncated"`
	TruncatedReason  string                `json:"truncated_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	Files            []FileMeta            `json:"files"`
}

// FileCount returns the number of indexed files.
func (g *ScanGraph) FileCount() int {
	return len(g.Files)
}

// RecomputeFingerprint recomputes the fingerprint from the graph's own files.
func (g *ScanGraph) RecomputeFingerprint() (string, error) {
	return Fingerprint(g.Roots, g.Files)
}

type fingerprintFile struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	ModNS int64  `json:"mod_ns"`
}

// Fingerprint is the JCS sha256 over roots and sorted file metadata. Category
// and language are derived data and do not take part.
func Fingerprint(roots []string, files []FileMeta) (string, error) {
	entries := make([]fingerprintFile, len(files))
	for i, f := range files {
		entries[i] = fingerprintFile{Path: f.Path, Size: f.Size, ModNS: f.ModNS}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return jcs.Digest(struct {
		Roots []string          `json:"roots"`
		Files []fingerprintFile `json:"files"`
	}{roots, entries})
}

// FingerprintFromSnapshot computes the fingerprint a fresh walk would produce
// from a guard snapshot, applying the same ignore rules. No file is opened.
func FingerprintFromSnapshot(roots []string, snap *guard.Snapshot, matcher *Matcher) (string, error) {
	return Fingerprint(roots, filesFromSnapshot(snap, matcher))
}

func filesFromSnapshot(snap *guard.Snapshot, matcher *Matcher) []FileMeta {
	var files []FileMeta
	for _, e := range snap.Files() {
		if !included(matcher, e.Path) {
			continue
		}
		files = append(files, FileMeta{Path: e.Path, Size: e.Size, ModNS: e.ModNS})
	}
	return files
}

// included mirrors the walk: a path is indexed only if neither it nor any
// parent directory is ignored.
func included(m *Matcher, rel string) bool {
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && m.ShouldIgnore(rel[:i], true) {
			return false
		}
	}
	return !m.ShouldIgnore(rel, false)
}

// CacheKey is the JCS sha256 over roots, producer versions and schema version.
func CacheKey(roots []string, producers map[string]string, schemaVersion int) (string, error) {
	return jcs.Digest(struct {
		Roots            []string          `json:"roots"`
		ProducerVersions map[string]string `json:"producer_versions"`
		SchemaVersion    int               `json:"schema_version"`
	}{roots, producers, schemaVersion})
}

// interfaceLanguages are counted but never compete for primary language.
var interfaceLanguages = map[string]bool{"protobuf": true}

// assess fills confidence tier, primary language and ambiguity.
func (g *ScanGraph) assess() {
	sources := len(g.FileIndex[CategorySource])
	markers := len(g.ContentHints[HintMarkers])
	routes := len(g.ContentHints[HintRoutes])

	switch {
	case sources == 0:
		g.ConfidenceTier = ConfidenceLow
	case sources >= 5 && (markers >= 5 || routes > 0):
		g.ConfidenceTier = ConfidenceHigh
	default:
		g.ConfidenceTier = ConfidenceMedium
	}

	best, tied := "", 0
	langs := make([]string, 0, len(g.Languages))
	for lang := range g.Languages {
		if !interfaceLanguages[lang] {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	for _, lang := range langs {
		n := g.Languages[lang]
		switch {
		case best == "" || n > g.Languages[best]:
			best, tied = lang, 0
		case n == g.Languages[best]:
			tied++
		}
	}
	g.PrimaryLanguage = best
	g.Ambiguity = tied
}

func ratio(hits, total int) *float64 {
	r := 0.0
	if total > 0 {
		r = float64(hits) / float64(total)
	}
	return &r
}
