package federation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/filelock"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/fsutil"
)

type document struct {
	SchemaVersion int     `json:"schema_version"`
	Entries       []Entry `json:"entries"`
}

// JSONStore keeps the index as one document replaced by atomic rename under
// a cross-process lock.
type JSONStore struct {
	path       string
	maxEntries int
}

// NewJSONStore returns a store over path. Nothing is created until Upsert.
func NewJSONStore(path string, maxEntries int) *JSONStore {
	return &JSONStore{path: path, maxEntries: maxEntries}
}

// Path returns the document path.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) read() (*document, error) {
	var doc document
	if err := fsutil.ReadJSON(s.path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &document{SchemaVersion: SchemaVersion}, nil
		}
		return nil, fmt.Errorf("read federated index: %w", err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, bdkerrors.Newf(bdkerrors.InternalError, "schema_mismatch",
			"federated index schema_version %d is newer than supported %d", doc.SchemaVersion, SchemaVersion)
	}
	return &doc, nil
}

// Upsert replaces the entry of e.ProjectID and evicts the least recent
// entries beyond the bound.
func (s *JSONStore) Upsert(ctx context.Context, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create federation dir: %w", err)
	}
	return filelock.With(ctx, s.path, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		entries := []Entry{e}
		for _, old := range doc.Entries {
			if old.ProjectID != e.ProjectID {
				entries = append(entries, old)
			}
		}
		doc.SchemaVersion = SchemaVersion
		doc.Entries = evict(entries, s.maxEntries)
		return fsutil.WriteJSONAtomic(s.path, doc)
	})
}

// All returns every entry, most recent first.
func (s *JSONStore) All(ctx context.Context) ([]Entry, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return evict(doc.Entries, 0), nil
}

// Query ranks the stored entries against f.
func (s *JSONStore) Query(ctx context.Context, f Filter) ([]Match, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(entries, f), nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }
