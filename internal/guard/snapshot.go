// Package guard proves that an operation left the target repository untouched.
package guard

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/jcs"
)

// Entry is the stat-only record of one path under the root.
type Entry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	ModNS int64  `json:"mod_ns"`
	Mode  uint32 `json:"mode"`
	Dir   bool   `json:"dir,omitempty"`
}

// Snapshot is a full, sorted listing of every path under Root, .git included.
// It is never truncated by scan limits.
type Snapshot struct {
	Root    string    `json:"root"`
	TakenAt time.Time `json:"taken_at"`
	Entries []Entry   `json:"entries"`
}

// Take walks root with lstat only; no file content is read.
func Take(ctx context.Context, root string) (*Snapshot, error) {
	snap := &Snapshot{Root: root, TakenAt: time.Now().UTC()}
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path != root {
				return nil
			}
			if os.IsPermission(walkErr) && path != root {
				// unreadable directory: keep the entry, skip its children
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return walkErr
		}
		count++
		if count%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if path == root {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := Entry{
			Path:  filepath.ToSlash(rel),
			Mode:  uint32(info.Mode()),
			ModNS: info.ModTime().UnixNano(),
			Dir:   d.IsDir(),
		}
		if !entry.Dir {
			entry.Size = info.Size()
		}
		snap.Entries = append(snap.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].Path < snap.Entries[j].Path
	})
	return snap, nil
}

// Files returns the non-directory entries.
func (s *Snapshot) Files() []Entry {
	files := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if !e.Dir {
			files = append(files, e)
		}
	}
	return files
}

// Digest is a stable digest of every entry, used as before/after evidence.
func (s *Snapshot) Digest() string {
	digest, err := jcs.Digest(struct {
		Root    string  `json:"root"`
		Entries []Entry `json:"entries"`
	}{s.Root, s.Entries})
	if err != nil {
		return ""
	}
	return digest
}

// ChangeKind classifies a difference between snapshots.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is one differing path.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// Diff lists every path that differs between two snapshots, sorted by path.
// Directory mtime changes alone are reported too: they reveal created or
// deleted children even when those were cleaned up again.
func Diff(before, after *Snapshot) []Change {
	var changes []Change
	i, j := 0, 0
	for i < len(before.Entries) || j < len(after.Entries) {
		switch {
		case j >= len(after.Entries) || (i < len(before.Entries) && before.Entries[i].Path < after.Entries[j].Path):
			changes = append(changes, Change{Path: before.Entries[i].Path, Kind: Removed})
			i++
		case i >= len(before.Entries) || after.Entries[j].Path < before.Entries[i].Path:
			changes = append(changes, Change{Path: after.Entries[j].Path, Kind: Added})
			j++
		default:
			if before.Entries[i] != after.Entries[j] {
				changes = append(changes, Change{Path: before.Entries[i].Path, Kind: Modified})
			}
			i++
			j++
		}
	}
	return changes
}
