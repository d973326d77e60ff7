// Package registry is the durable cross-run store of per-project run history,
// latest pointers and immutable run metadata.
//
// Every document is replaced by atomic rename, so readers never observe a
// partial write. The shared capability index is updated under a
// cross-process lock; the journal is appended under its own lock.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/filelock"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/fsutil"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
)

// DefaultMaxRuns bounds a project's run history.
const DefaultMaxRuns = 20

// ErrRunExists is returned when a run id was already recorded.
var ErrRunExists = errors.New("run already recorded")

// Registry reads and writes the global-state root.
type Registry struct {
	globalRoot string
	maxRuns    int
	logger     *slog.Logger
}

// New creates a registry over globalRoot. Nothing is created until Record.
func New(globalRoot string, maxRuns int, logger *slog.Logger) *Registry {
	if maxRuns < 1 {
		maxRuns = DefaultMaxRuns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{globalRoot: globalRoot, maxRuns: maxRuns, logger: logger}
}

// NewRunID returns run-<utc yyyymmddThhmmssZ>-<8 hex>.
func NewRunID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("run-%s-%x", now.UTC().Format("20060102T150405Z"), id[:4])
}

// Outcome is everything one successful run persists.
type Outcome struct {
	Roots        *paths.Roots
	RepoRoot     string
	Summary      RunSummary
	Meta         RunMeta
	Capabilities *Capabilities
	Governance   governance.Snapshot
	Versions     map[string]string
	// Journal is the human/agent-readable line appended to capabilities.jsonl
	Journal interface{}
}

// Record persists a successful run. The order is chosen so an interruption
// at any point leaves only complete documents, and the latest pointer never
// references an artifact that does not exist yet.
func (r *Registry) Record(ctx context.Context, out Outcome) error {
	if out.Roots == nil || out.Summary.RunID == "" {
		return fmt.Errorf("record: roots and run id are required")
	}
	runID := out.Summary.RunID

	if out.Capabilities != nil {
		capsPath := filepath.Join(out.Roots.RunWorkspaceDir(runID), paths.CapabilitiesFile)
		if err := fsutil.WriteJSONAtomic(capsPath, out.Capabilities); err != nil {
			return fmt.Errorf("write capabilities: %w", err)
		}
	}

	metaPath := r.runMetaPath(out.Roots.ProjectID, runID)
	if _, err := os.Stat(metaPath); err == nil {
		return fmt.Errorf("%w: %s", ErrRunExists, runID)
	}
	sealManifest(out.Meta.ArtifactsManifest)
	if err := fsutil.WriteJSONAtomic(metaPath, out.Meta); err != nil {
		return fmt.Errorf("write run meta: %w", err)
	}

	pointer := &Pointer{
		RunID:              runID,
		PathToCapabilities: out.Summary.Capabilities,
		CreatedAt:          out.Summary.CreatedAt,
	}
	if err := os.MkdirAll(r.globalRoot, 0o755); err != nil {
		return fmt.Errorf("create global root: %w", err)
	}
	err := filelock.With(ctx, r.indexPath(), func() error {
		idx, err := r.ReadIndex()
		if err != nil {
			return err
		}
		entry := idx.Projects[out.Roots.ProjectID]
		if entry == nil {
			entry = &Entry{
				ProjectID: out.Roots.ProjectID,
				CreatedAt: out.Summary.CreatedAt,
			}
			idx.Projects[out.Roots.ProjectID] = entry
		}
		entry.RepoRoot = out.RepoRoot
		entry.RepoFingerprint = out.Summary.RepoFingerprint
		entry.UpdatedAt = out.Summary.CreatedAt
		entry.Latest = pointer
		entry.Versions = out.Versions
		entry.GovernanceSnapshot = out.Governance
		entry.Runs = append([]RunSummary{out.Summary}, entry.Runs...)
		if len(entry.Runs) > r.maxRuns {
			entry.Runs = entry.Runs[:r.maxRuns]
		}

		if err := fsutil.WriteJSONAtomic(r.indexPath(), idx); err != nil {
			return fmt.Errorf("write capability index: %w", err)
		}
		if err := fsutil.WriteJSONAtomic(r.latestPath(out.Roots.ProjectID), pointer); err != nil {
			return fmt.Errorf("write latest pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if out.Journal != nil {
		line, err := json.Marshal(out.Journal)
		if err != nil {
			return fmt.Errorf("encode journal line: %w", err)
		}
		if err := fsutil.AppendLineLocked(ctx, out.Roots.JournalPath(), line, 0o644); err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
	}

	r.logger.Debug("Run recorded",
		"project_id", out.Roots.ProjectID,
		"run_id", runID,
		"outcome", out.Summary.Outcome,
	)
	return nil
}

// sealManifest fills in the digest and size of every artifact that exists
// and has none yet.
func sealManifest(manifest []Artifact) {
	for i := range manifest {
		a := &manifest[i]
		if a.SHA256 != "" {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			continue
		}
		sum := sha256.Sum256(data)
		a.SHA256 = hex.EncodeToString(sum[:])
		a.Size = int64(len(data))
	}
}

// ReadIndex returns the capability index, empty when none was written yet.
func (r *Registry) ReadIndex() (*Index, error) {
	var idx Index
	if err := fsutil.ReadJSON(r.indexPath(), &idx); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Index{SchemaVersion: IndexSchemaVersion, Projects: map[string]*Entry{}}, nil
		}
		return nil, fmt.Errorf("read capability index: %w", err)
	}
	if idx.SchemaVersion > IndexSchemaVersion {
		return nil, bdkerrors.Newf(bdkerrors.InternalError, "schema_mismatch",
			"capability index schema_version %d is newer than supported %d", idx.SchemaVersion, IndexSchemaVersion)
	}
	if idx.Projects == nil {
		idx.Projects = map[string]*Entry{}
	}
	idx.SchemaVersion = IndexSchemaVersion
	return &idx, nil
}

// ReadLatest returns the latest pointer of a project, or nil when the project
// has no successful run.
func (r *Registry) ReadLatest(projectID string) (*Pointer, error) {
	var p Pointer
	if err := fsutil.ReadJSON(r.latestPath(projectID), &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	return &p, nil
}

// Entry returns the index entry of a project, or nil.
func (r *Registry) Entry(projectID string) (*Entry, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Projects[projectID], nil
}

// History returns a project's runs, newest first.
func (r *Registry) History(projectID string) ([]RunSummary, error) {
	entry, err := r.Entry(projectID)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Runs, nil
}

// List returns every project entry ordered by project id.
func (r *Registry) List() ([]*Entry, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(idx.Projects))
	for _, e := range idx.Projects {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ProjectID < entries[j].ProjectID })
	return entries, nil
}

// ReadRunMeta returns the immutable metadata of one run.
func (r *Registry) ReadRunMeta(projectID, runID string) (*RunMeta, error) {
	var meta RunMeta
	if err := fsutil.ReadJSON(r.runMetaPath(projectID, runID), &meta); err != nil {
		return nil, fmt.Errorf("read run meta %s: %w", runID, err)
	}
	return &meta, nil
}

func (r *Registry) indexPath() string {
	return filepath.Join(r.globalRoot, paths.CapabilityIndexFile)
}

func (r *Registry) latestPath(projectID string) string {
	return filepath.Join(r.globalRoot, projectID, paths.LatestFile)
}

func (r *Registry) runMetaPath(projectID, runID string) string {
	return filepath.Join(r.globalRoot, projectID, paths.RunsSubdir, runID, paths.RunMetaFile)
}
