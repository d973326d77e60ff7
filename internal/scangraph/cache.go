package scangraph

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/fsutil"
)

// CacheEntry is the document stored at scan_cache/<cache_key>.json. The graph
// inside carries file-derived hints only; external hint sources are merged
// per build.
type CacheEntry struct {
	SchemaVersion    int                  `json:"schema_version"`
	ProducerVersions map[string]string    `json:"producer_versions"`
	CacheKey         string               `json:"cache_key"`
	Graph            *ScanGraph           `json:"graph"`
	FileHints        map[string]FileHints `json:"file_hints"`
}

// CachePath returns the cache entry path for a key.
func CachePath(cacheDir, key string) string {
	return filepath.Join(cacheDir, key+".json")
}

// LoadCache reads a cache entry. A missing file returns an error matching
// os.ErrNotExist.
func LoadCache(path string) (*CacheEntry, error) {
	var entry CacheEntry
	if err := fsutil.ReadJSON(path, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// WriteCache stores a cache entry atomically.
func WriteCache(path string, entry *CacheEntry) error {
	return fsutil.WriteJSONAtomic(path, entry)
}

// loadVerified returns the cache entry at path when it is present and
// consistent. A missing entry yields (nil, nil).
func loadVerified(path, key string, want Expectation) (*CacheEntry, *Mismatch) {
	entry, err := LoadCache(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Mismatch{Reason: ReasonCacheCorrupt, Detail: fmt.Sprintf("unreadable cache entry: %v", err), Path: path}
	}
	if m := entry.verify(key, want, path); m != nil {
		return nil, m
	}
	return entry, nil
}

func (e *CacheEntry) verify(key string, want Expectation, path string) *Mismatch {
	if e.SchemaVersion != want.SchemaVersion {
		return &Mismatch{
			Reason:   ReasonSchemaMismatch,
			Detail:   "cache entry schema version differs",
			Path:     path,
			Expected: fmt.Sprint(want.SchemaVersion),
			Observed: fmt.Sprint(e.SchemaVersion),
		}
	}
	if !maps.Equal(e.ProducerVersions, want.ProducerVersions) {
		return &Mismatch{
			Reason:   ReasonProducerMismatch,
			Detail:   "cache entry was written by different producer versions",
			Path:     path,
			Expected: fmt.Sprint(want.ProducerVersions),
			Observed: fmt.Sprint(e.ProducerVersions),
		}
	}
	if e.CacheKey != key || e.Graph == nil || e.Graph.CacheKey != key {
		return &Mismatch{Reason: ReasonCacheCorrupt, Detail: "cache entry does not belong to its cache key", Path: path, Expected: key, Observed: e.CacheKey}
	}
	return Verify(e.Graph, want, path)
}
