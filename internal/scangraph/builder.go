package scangraph

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/fsutil"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/guard"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/slogutil"
)

// Truncation reasons.
const (
	TruncatedMaxFiles    = "max_files"
	TruncatedMaxDuration = "max_duration"
)

// Limits bound one walk. Zero values disable a limit.
type Limits struct {
	MaxFiles     int
	MaxDuration  time.Duration
	MaxFileBytes int64
}

// Request describes one build.
type Request struct {
	// Root is the canonical repository root
	Root             string
	ProducerVersions map[string]string
	Ignore           []string
	Limits           Limits
	// CacheDir and GraphPath are workspace locations; empty disables persistence
	CacheDir  string
	GraphPath string
	Strict    bool
	// Baseline is the read-only guard's before snapshot. When it matches the
	// cached graph the walk is skipped entirely.
	Baseline *guard.Snapshot
	Sources  []HintSource
	Logger   *slog.Logger
	Now      func() time.Time
}

// Result is the outcome of Build.
type Result struct {
	Graph        *ScanGraph
	CachePath    string
	ShortCircuit bool
	// Mismatch is set when the cache entry was inconsistent. In lenient mode
	// the graph was rebuilt anyway.
	Mismatch *Mismatch
}

// Build produces the scan graph for req.Root with at most one walk.
func Build(ctx context.Context, req Request) (*Result, error) {
	now := req.Now
	if now == nil {
		now = time.Now
	}
	logger := req.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	start := now()

	roots := []string{req.Root}
	key, err := CacheKey(roots, req.ProducerVersions, SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("compute cache key: %w", err)
	}
	want := Expectation{SchemaVersion: SchemaVersion, ProducerVersions: req.ProducerVersions}
	matcher := NewMatcher(req.Ignore)
	res := &Result{}

	var prev *CacheEntry
	if req.CacheDir != "" {
		res.CachePath = CachePath(req.CacheDir, key)
		entry, mismatch := loadVerified(res.CachePath, key, want)
		if mismatch != nil {
			res.Mismatch = mismatch
			if req.Strict {
				return res, mismatch.Err()
			}
			logger.Warn("Scan cache is inconsistent, rebuilding",
				"mismatch_reason", string(mismatch.Reason),
				"detail", mismatch.Detail,
				"path", mismatch.Path,
			)
		}
		prev = entry
	}

	if prev != nil && req.Baseline != nil {
		fp, err := FingerprintFromSnapshot(roots, req.Baseline, matcher)
		if err == nil && fp == prev.Graph.GraphFingerprint {
			graph := prev.Graph
			graph.CreatedAt = now().UTC()
			graph.IOStats = IOStats{
				CacheHits:     len(graph.Files),
				CacheHitRatio: ratio(len(graph.Files), len(graph.Files)),
				DurationMS:    now().Sub(start).Milliseconds(),
			}
			res.Graph = withSources(ctx, graph, req.Sources, logger)
			res.ShortCircuit = true
			if err := CheckStrict(graph, req.Strict, logger); err != nil {
				return res, err
			}
			logger.Debug("Scan graph unchanged, walk skipped", "files", len(graph.Files), "cache_key", key)
			if err := WriteGraph(req.GraphPath, res.Graph); err != nil {
				return nil, err
			}
			return res, nil
		}
	}

	graph, fileHints, err := walk(ctx, req, matcher, prev, start, now)
	if err != nil {
		return nil, err
	}
	graph.CacheKey = key
	graph.Roots = roots
	graph.ProducerVersions = req.ProducerVersions
	graph.CreatedAt = now().UTC()
	if graph.GraphFingerprint, err = Fingerprint(roots, graph.Files); err != nil {
		return nil, fmt.Errorf("compute graph fingerprint: %w", err)
	}
	graph.assess()
	graph.IOStats.DurationMS = now().Sub(start).Milliseconds()
	res.Graph = withSources(ctx, graph, req.Sources, logger)

	if err := CheckStrict(graph, req.Strict, logger); err != nil {
		return res, err
	}

	if res.CachePath != "" && !graph.Truncated {
		entry := &CacheEntry{
			SchemaVersion:    SchemaVersion,
			ProducerVersions: req.ProducerVersions,
			CacheKey:         key,
			Graph:            graph,
			FileHints:        fileHints,
		}
		if err := WriteCache(res.CachePath, entry); err != nil {
			return nil, fmt.Errorf("write scan cache: %w", err)
		}
	}
	if err := WriteGraph(req.GraphPath, res.Graph); err != nil {
		return nil, err
	}

	logger.Debug("Scan graph built",
		"files", graph.IOStats.FilesWalked,
		"content_reads", graph.IOStats.ContentReads,
		"cache_hits", graph.IOStats.CacheHits,
		"duration_ms", graph.IOStats.DurationMS,
	)
	return res, nil
}

func walk(ctx context.Context, req Request, matcher *Matcher, prev *CacheEntry, start time.Time, now func() time.Time) (*ScanGraph, map[string]FileHints, error) {
	prevFiles := map[string]FileMeta{}
	if prev != nil {
		for _, f := range prev.Graph.Files {
			prevFiles[f.Path] = f
		}
	}

	graph := &ScanGraph{
		SchemaVersion: SchemaVersion,
		FileIndex:     map[Category][]string{},
		Languages:     map[string]int{},
		ContentHints:  map[string][]string{},
	}
	fileHints := map[string]FileHints{}
	stats := &graph.IOStats
	stats.Walks = 1

	err := filepath.WalkDir(req.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == req.Root {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == req.Root {
			return nil
		}
		rel, err := filepath.Rel(req.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.ShouldIgnore(rel, true) {
				return fs.SkipDir
			}
			return nil
		}
		if matcher.ShouldIgnore(rel, false) {
			return nil
		}

		if req.Limits.MaxFiles > 0 && len(graph.Files) >= req.Limits.MaxFiles {
			graph.Truncated, graph.TruncatedReason = true, TruncatedMaxFiles
			return fs.SkipAll
		}
		if req.Limits.MaxDuration > 0 && now().Sub(start) > req.Limits.MaxDuration {
			graph.Truncated, graph.TruncatedReason = true, TruncatedMaxDuration
			return fs.SkipAll
		}
		if len(graph.Files)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		category, language := Classify(rel)
		meta := FileMeta{
			Path:     rel,
			Size:     info.Size(),
			ModNS:    info.ModTime().UnixNano(),
			Category: category,
			Language: language,
		}
		graph.Files = append(graph.Files, meta)
		graph.FileIndex[category] = append(graph.FileIndex[category], rel)
		if language != "" {
			graph.Languages[language]++
		}

		if old, ok := prevFiles[rel]; ok && old.Size == meta.Size && old.ModNS == meta.ModNS {
			stats.CacheHits++
			if h, ok := prev.FileHints[rel]; ok {
				fileHints[rel] = h
			}
			return nil
		}

		if !readsContent(category) || !info.Mode().IsRegular() {
			return nil
		}
		if req.Limits.MaxFileBytes > 0 && meta.Size > req.Limits.MaxFileBytes {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			// vanished or unreadable between stat and read
			return nil
		}
		stats.ContentReads++
		stats.BytesRead += int64(len(content))
		if h := extractHints(rel, category, language, content); len(h) > 0 {
			fileHints[rel] = h
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", req.Root, err)
	}

	stats.FilesWalked = len(graph.Files)
	if !graph.Truncated {
		stats.CacheHitRatio = ratio(stats.CacheHits, stats.FilesWalked)
	}
	for _, h := range fileHints {
		for kind, signals := range h {
			graph.ContentHints[kind] = append(graph.ContentHints[kind], signals...)
		}
	}
	for kind, signals := range graph.ContentHints {
		graph.ContentHints[kind] = dedupeSorted(signals)
	}
	return graph, fileHints, nil
}

// CheckStrict turns truncation, low confidence and ambiguity into failures
// under strict mode; lenient mode only warns. It applies to every graph a
// run accepts, whether built or reused.
func CheckStrict(graph *ScanGraph, strict bool, logger *slog.Logger) error {
	if graph.Truncated {
		if strict {
			return bdkerrors.New(bdkerrors.ScanLimitsExceeded, "scan_limits_exceeded",
				fmt.Sprintf("scan stopped at %d files (%s)", len(graph.Files), graph.TruncatedReason), nil,
			).WithDetails(map[string]interface{}{
				"truncated_reason": graph.TruncatedReason,
				"files_walked":     len(graph.Files),
			}).WithFix("raise --max-files/--max-duration or add ignore rules")
		}
		logger.Warn("Scan limits exceeded, graph is truncated",
			"truncated_reason", graph.TruncatedReason,
			"files_walked", len(graph.Files),
		)
	}
	if graph.ConfidenceTier == ConfidenceLow {
		if strict {
			return bdkerrors.New(bdkerrors.LowConfidence, "low_confidence",
				"scan result has low confidence and needs human disambiguation", nil,
			).WithDetails(map[string]interface{}{
				"source_files": len(graph.FileIndex[CategorySource]),
			}).WithFix("declare roots in LAYOUT.toml or import a hint bundle")
		}
		logger.Warn("Scan result has low confidence", "source_files", len(graph.FileIndex[CategorySource]))
	}
	if graph.Ambiguity > 0 {
		if strict {
			return bdkerrors.New(bdkerrors.StrictAmbiguity, "ambiguous_primary_language",
				fmt.Sprintf("%d languages tie for primary language", graph.Ambiguity+1), nil,
			).WithDetails(graph.Languages).WithFix("declare the primary language in LAYOUT.toml")
		}
		logger.Warn("Primary language is ambiguous", "primary_language", graph.PrimaryLanguage, "ambiguity", graph.Ambiguity)
	}
	return nil
}

// WriteGraph atomically writes graph to path. An empty path is a no-op.
func WriteGraph(path string, graph *ScanGraph) error {
	if path == "" {
		return nil
	}
	if err := fsutil.WriteJSONAtomic(path, graph); err != nil {
		return fmt.Errorf("write scan graph: %w", err)
	}
	return nil
}

// LoadGraph reads a persisted scan_graph.json.
func LoadGraph(path string) (*ScanGraph, error) {
	var graph ScanGraph
	if err := fsutil.ReadJSON(path, &graph); err != nil {
		return nil, err
	}
	return &graph, nil
}
