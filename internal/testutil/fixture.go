// Package testutil provides fixture helpers shared by package tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteTree creates files under root from a map of slash-separated relative
// paths to contents, failing the test on error.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// ListTree returns every path under root, directories included, sorted and
// slash-separated. A missing root yields an empty list.
func ListTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("list %s: %v", root, err)
	}
	sort.Strings(out)
	return out
}

// AssertAbsent fails the test when any of paths exists.
func AssertAbsent(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("%s should not exist", p)
		} else if !os.IsNotExist(err) {
			t.Errorf("stat %s: %v", p, err)
		}
	}
}

// Isolate points every bdk location at fresh temp directories and clears
// governance env overrides. It returns the state and workspace roots, which
// are not created.
func Isolate(t *testing.T) (stateDir, workspaceDir string) {
	t.Helper()
	base := t.TempDir()
	stateDir = filepath.Join(base, "state")
	workspaceDir = filepath.Join(base, "workspace")
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("BDK_HOME", stateDir)
	t.Setenv("BDK_WORKSPACE", workspaceDir)
	t.Setenv("BDK_ENABLED", "")
	t.Setenv("BDK_POLICY", "")
	t.Setenv("BDK_TOKEN", "")
	return stateDir, workspaceDir
}
