package hints

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/slogutil"
)

func writeBundle(t *testing.T, projectID string) string {
	t.Helper()
	b, err := New(projectID, "run-20260101T000000Z-abcd1234", map[string][]string{
		"routes":   {"GET /b", "GET /a", "GET /a"},
		"keywords": {"billing"},
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "hint_bundle.json")
	if err := Write(path, b); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return path
}

func hintsDecision(t *testing.T, repo string, allowed bool) governance.Decision {
	t.Helper()
	policy := &governance.Policy{Enabled: true}
	if allowed {
		policy.Hints.Allow = []string{repo}
	}
	return governance.Evaluate(repo, policy, nil, governance.CapabilityHints, time.Now())
}

func TestNewNormalizesAndVerifies(t *testing.T) {
	path := writeBundle(t, "p1")
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := strings.Join(b.Hints["routes"], ","); got != "GET /a,GET /b" {
		t.Errorf("routes = %s, want deduplicated and sorted", got)
	}
	if err := b.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := writeBundle(t, "p1")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), "billing", "shipping", 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Verify()
	if got := bdkerrors.ExitCodeOf(err); got != 22 {
		t.Errorf("exit code = %d, want 22", got)
	}
	if bdkerrors.ReasonOf(err) != ReasonDigestMismatch {
		t.Errorf("reason = %s", bdkerrors.ReasonOf(err))
	}
}

func TestImport(t *testing.T) {
	repo := t.TempDir()
	logger := slogutil.NewDiscardLogger()

	tests := []struct {
		name        string
		allowed     bool
		strict      bool
		bundleFor   string
		requireID   bool
		wantExit    int
		wantSkipped bool
	}{
		{"allowed", true, false, "p1", false, 0, false},
		{"scope missing lenient skips", false, false, "p1", false, 0, true},
		{"scope missing strict blocks", false, true, "p1", false, 23, false},
		{"other project warns", true, false, "p2", false, 0, false},
		{"other project with identity gate", true, false, "p2", true, 26, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBundle(t, tt.bundleFor)
			imported, err := Import(context.Background(), ImportOptions{
				Path:                 path,
				ProjectID:            "p1",
				RequireScopeIdentity: tt.requireID,
				Strict:               tt.strict,
				Decision:             hintsDecision(t, repo, tt.allowed),
				Logger:               logger,
			})
			if got := bdkerrors.ExitCodeOf(err); got != tt.wantExit {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.wantExit, err)
			}
			if err != nil {
				return
			}
			if imported.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %v, want %v", imported.Skipped, tt.wantSkipped)
			}
			if tt.wantSkipped {
				if imported.Source() != nil {
					t.Error("skipped import must not provide a hint source")
				}
				if imported.SkipReason != governance.ReasonNotAllowListed {
					t.Errorf("SkipReason = %s", imported.SkipReason)
				}
				return
			}
			signals, err := imported.Source().Hints(context.Background())
			if err != nil || len(signals["routes"]) != 2 {
				t.Errorf("source hints = %v, %v", signals, err)
			}
		})
	}
}

func TestImportSkippedDoesNotOpenFile(t *testing.T) {
	repo := t.TempDir()
	imported, err := Import(context.Background(), ImportOptions{
		Path:     filepath.Join(t.TempDir(), "does-not-exist.json"),
		Decision: hintsDecision(t, repo, false),
		Logger:   slogutil.NewDiscardLogger(),
	})
	if err != nil || !imported.Skipped {
		t.Errorf("Import() = %+v, %v; want skipped", imported, err)
	}
}

func TestImportUnreadable(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Import(context.Background(), ImportOptions{
		Path:     path,
		Decision: hintsDecision(t, repo, true),
		Logger:   slogutil.NewDiscardLogger(),
	})
	if got := bdkerrors.ExitCodeOf(err); got != 22 {
		t.Errorf("exit code = %d, want 22", got)
	}
}
