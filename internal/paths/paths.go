package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// HomeEnvVar overrides the global-state root
	HomeEnvVar = "BDK_HOME"
	// WorkspaceEnvVar overrides the workspace root
	WorkspaceEnvVar = "BDK_WORKSPACE"
	// DefaultBase is the directory under the user's home holding both roots
	DefaultBase = ".bdk"
	// StateSubdir is the global-state root under DefaultBase
	StateSubdir = "state"
	// WorkspaceSubdir holds per-project workspaces under DefaultBase
	WorkspaceSubdir = "workspace"
)

// Layout file names under the global-state root.
const (
	CapabilityIndexFile = "capability_index.json"
	LatestFile          = "latest.json"
	RunsSubdir          = "runs"
	RunMetaFile         = "run_meta.json"
	FederatedIndexJSON  = "federated_index.json"
	FederatedIndexDB    = "federated_index.db"
	PolicyFile          = "policy.toml"
)

// Layout file names under the workspace root.
const (
	ScanGraphFile    = "scan_graph.json"
	ScanCacheSubdir  = "scan_cache"
	CapabilitiesFile = "capabilities.json"
	JournalFile      = "capabilities.jsonl"
	HintBundleFile   = "hint_bundle.json"
)

// Options carries explicit overrides, usually from CLI flags.
type Options struct {
	StateDir     string
	WorkspaceDir string
}

// Roots are the resolved directories for one invocation.
// Resolving never creates anything on disk.
type Roots struct {
	// RepoRoot is the symlink-resolved absolute target repository path
	RepoRoot string
	// ProjectID is the registry key derived from RepoRoot
	ProjectID string
	// GlobalRoot holds durable cross-run state
	GlobalRoot string
	// WorkspaceRoot holds per-run artifacts and the scan cache
	WorkspaceRoot string
}

// Resolve computes both roots for repoRoot. Both must live outside the target
// repository and must not overlap each other.
func Resolve(repoRoot string, opts Options) (*Roots, error) {
	canonicalRepo, err := RealPath(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}
	info, err := os.Stat(canonicalRepo)
	if err != nil {
		return nil, fmt.Errorf("stat repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", canonicalRepo)
	}

	projectID := ComputeProjectID(canonicalRepo)

	global, err := ResolveGlobal(opts.StateDir)
	if err != nil {
		return nil, err
	}
	workspace, err := resolveWorkspace(opts.WorkspaceDir, projectID)
	if err != nil {
		return nil, err
	}

	if IsWithin(global, canonicalRepo) {
		return nil, fmt.Errorf("global-state root %s must be outside the target repository %s", global, canonicalRepo)
	}
	if IsWithin(workspace, canonicalRepo) {
		return nil, fmt.Errorf("workspace root %s must be outside the target repository %s", workspace, canonicalRepo)
	}
	if IsWithin(canonicalRepo, global) || IsWithin(canonicalRepo, workspace) {
		return nil, fmt.Errorf("target repository %s must not live inside bdk state directories", canonicalRepo)
	}
	if IsWithin(workspace, global) || IsWithin(global, workspace) {
		return nil, fmt.Errorf("workspace root %s and global-state root %s must be disjoint", workspace, global)
	}

	return &Roots{
		RepoRoot:      canonicalRepo,
		ProjectID:     projectID,
		GlobalRoot:    global,
		WorkspaceRoot: workspace,
	}, nil
}

// ResolveGlobal returns the global-state root: explicit, else BDK_HOME, else
// ~/.bdk/state.
func ResolveGlobal(explicit string) (string, error) {
	if explicit != "" {
		return RealPath(explicit)
	}
	if env := os.Getenv(HomeEnvVar); env != "" {
		return RealPath(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return RealPath(filepath.Join(home, DefaultBase, StateSubdir))
}

func resolveWorkspace(explicit, projectID string) (string, error) {
	if explicit != "" {
		return RealPath(explicit)
	}
	if env := os.Getenv(WorkspaceEnvVar); env != "" {
		return RealPath(filepath.Join(env, projectID))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return RealPath(filepath.Join(home, DefaultBase, WorkspaceSubdir, projectID))
}

// ComputeProjectID returns the registry key for a canonical repository path.
func ComputeProjectID(canonicalRoot string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(canonicalRoot)))
	return hex.EncodeToString(sum[:8])
}

// RealPath returns an absolute, symlink-resolved path. When the path (or a
// suffix of it) does not exist yet, the deepest existing ancestor is resolved
// and the missing components are appended unchanged.
func RealPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	var missing []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, missing...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		current = parent
	}
}

// Project-scoped locations under the global-state root.

// ProjectDir returns <global>/<project>
func (r *Roots) ProjectDir() string {
	return filepath.Join(r.GlobalRoot, r.ProjectID)
}

// LatestPath returns <global>/<project>/latest.json
func (r *Roots) LatestPath() string {
	return filepath.Join(r.ProjectDir(), LatestFile)
}

// RunMetaDir returns <global>/<project>/runs/<run_id>
func (r *Roots) RunMetaDir(runID string) string {
	return filepath.Join(r.ProjectDir(), RunsSubdir, runID)
}

// CapabilityIndexPath returns <global>/capability_index.json
func (r *Roots) CapabilityIndexPath() string {
	return filepath.Join(r.GlobalRoot, CapabilityIndexFile)
}

// Workspace locations.

// ScanGraphPath returns <workspace>/scan_graph.json
func (r *Roots) ScanGraphPath() string {
	return filepath.Join(r.WorkspaceRoot, ScanGraphFile)
}

// ScanCacheDir returns <workspace>/scan_cache
func (r *Roots) ScanCacheDir() string {
	return filepath.Join(r.WorkspaceRoot, ScanCacheSubdir)
}

// RunWorkspaceDir returns <workspace>/runs/<run_id>
func (r *Roots) RunWorkspaceDir(runID string) string {
	return filepath.Join(r.WorkspaceRoot, RunsSubdir, runID)
}

// JournalPath returns <workspace>/capabilities.jsonl
func (r *Roots) JournalPath() string {
	return filepath.Join(r.WorkspaceRoot, JournalFile)
}

// EnsureDirs creates both roots. Only call after the governance gate allowed the run.
func (r *Roots) EnsureDirs() error {
	for _, dir := range []string{r.GlobalRoot, r.WorkspaceRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// IsWithin reports whether path equals root or lies below it. Both paths are
// compared as given; callers pass canonical paths.
func IsWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}
