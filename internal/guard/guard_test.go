package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestTake_RecordsEverythingSorted(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.go":              "package b",
		"a/x.go":            "package a",
		".git/HEAD":         "ref: refs/heads/main",
		"node_modules/m.js": "x",
	})

	snap, err := Take(context.Background(), root)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}

	want := []string{".git", ".git/HEAD", "a", "a/x.go", "b.go", "node_modules", "node_modules/m.js"}
	if len(snap.Entries) != len(want) {
		t.Fatalf("entries = %d, want %d: %+v", len(snap.Entries), len(want), snap.Entries)
	}
	for i, p := range want {
		if snap.Entries[i].Path != p {
			t.Errorf("entry %d = %s, want %s", i, snap.Entries[i].Path, p)
		}
	}

	if e := snap.Entries[4]; e.Size != int64(len("package b")) || e.Dir {
		t.Errorf("b.go entry = %+v", e)
	}
	if len(snap.Files()) != 4 {
		t.Errorf("Files() = %d, want 4", len(snap.Files()))
	}
}

func TestSnapshotDigestStable(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main"})

	s1, err := Take(context.Background(), root)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	s2, err := Take(context.Background(), root)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if s1.Digest() != s2.Digest() {
		t.Error("digest of unchanged tree should be stable")
	}
}

func TestDiff(t *testing.T) {
	before := &Snapshot{Entries: []Entry{
		{Path: "a.go", Size: 1, ModNS: 1},
		{Path: "b.go", Size: 2, ModNS: 2},
		{Path: "c.go", Size: 3, ModNS: 3},
	}}
	after := &Snapshot{Entries: []Entry{
		{Path: "a.go", Size: 1, ModNS: 1},
		{Path: "b.go", Size: 5, ModNS: 9},
		{Path: "d.go", Size: 4, ModNS: 4},
	}}

	got := Diff(before, after)
	want := []Change{
		{Path: "b.go", Kind: Modified},
		{Path: "c.go", Kind: Removed},
		{Path: "d.go", Kind: Added},
	}
	if len(got) != len(want) {
		t.Fatalf("Diff() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if changes := Diff(before, before); len(changes) != 0 {
		t.Errorf("Diff(same) = %+v, want none", changes)
	}
}

func TestRun_NoChanges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main"})

	var sawBaseline bool
	report, err := Run(context.Background(), root, Options{}, func(ctx context.Context, before *Snapshot) error {
		sawBaseline = len(before.Entries) == 1 && before.Entries[0].Path == "main.go"
		_, readErr := os.ReadFile(filepath.Join(root, "main.go"))
		return readErr
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sawBaseline {
		t.Error("fn should receive the baseline snapshot")
	}
	if !report.Verified() || report.BeforeDigest != report.AfterDigest {
		t.Errorf("report = %+v, want verified", report)
	}
}

func TestRun_DetectsMutation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(root string) error
		kind   ChangeKind
		path   string
	}{
		{"added file", func(root string) error {
			return os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644)
		}, Added, "new.txt"},
		{"removed file", func(root string) error {
			return os.Remove(filepath.Join(root, "main.go"))
		}, Removed, "main.go"},
		{"modified file", func(root string) error {
			future := time.Now().Add(time.Hour)
			if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main // edited"), 0o644); err != nil {
				return err
			}
			return os.Chtimes(filepath.Join(root, "main.go"), future, future)
		}, Modified, "main.go"},
		{"write inside ignored dir is still caught", func(root string) error {
			return os.WriteFile(filepath.Join(root, "node_modules", "evil.js"), []byte("x"), 0o644)
		}, Added, "node_modules/evil.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"main.go": "package main", "node_modules/m.js": "x"})

			report, err := Run(context.Background(), root, Options{}, func(ctx context.Context, _ *Snapshot) error {
				return tt.mutate(root)
			})
			if err == nil {
				t.Fatal("Run() should fail on mutation")
			}
			if got := bdkerrors.ExitCodeOf(err); got != 3 {
				t.Errorf("exit code = %d, want 3", got)
			}
			var violation *ViolationError
			if !errors.As(err, &violation) {
				t.Fatalf("error %v should wrap *ViolationError", err)
			}
			found := false
			for _, c := range violation.Changes {
				if c.Path == tt.path && c.Kind == tt.kind {
					found = true
				}
			}
			if !found {
				t.Errorf("changes %+v should include %s %s", violation.Changes, tt.kind, tt.path)
			}
			if report == nil || report.Verified() {
				t.Error("report should list the changes")
			}
		})
	}
}

func TestRun_ViolationBeatsFunctionError(t *testing.T) {
	root := t.TempDir()
	_, err := Run(context.Background(), root, Options{}, func(ctx context.Context, _ *Snapshot) error {
		_ = os.WriteFile(filepath.Join(root, "x"), nil, 0o644)
		return errors.New("scan failed")
	})
	if bdkerrors.CodeOf(err) != bdkerrors.ReadOnlyViolation {
		t.Errorf("CodeOf() = %v, want READONLY_VIOLATION", bdkerrors.CodeOf(err))
	}
}

func TestRun_AllowWriteIsReportedNotFatal(t *testing.T) {
	root := t.TempDir()
	report, err := Run(context.Background(), root, Options{AllowWrite: true}, func(ctx context.Context, _ *Snapshot) error {
		return os.WriteFile(filepath.Join(root, "generated.txt"), []byte("x"), 0o644)
	})
	if err != nil {
		t.Fatalf("Run() with AllowWrite error = %v", err)
	}
	if !report.OptOut {
		t.Error("OptOut should be recorded")
	}
	if report.Verified() || report.Changes[0].Path != "generated.txt" {
		t.Errorf("changes = %+v, want generated.txt listed", report.Changes)
	}
}

func TestRun_PropagatesFunctionError(t *testing.T) {
	root := t.TempDir()
	want := errors.New("boom")
	_, err := Run(context.Background(), root, Options{}, func(ctx context.Context, _ *Snapshot) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}

func TestViolationErrorMessage(t *testing.T) {
	changes := make([]Change, 12)
	for i := range changes {
		changes[i] = Change{Path: "f", Kind: Added}
	}
	msg := (&ViolationError{Changes: changes}).Error()
	if want := "and 2 more"; !strings.Contains(msg, want) {
		t.Errorf("Error() = %q, want to contain %q", msg, want)
	}
}
