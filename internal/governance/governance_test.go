package governance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mkRepo(t *testing.T, base, name string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	return dir
}

func TestLoad_MissingDefaultIsDisabled(t *testing.T) {
	t.Setenv(EnabledEnvVar, "")
	t.Setenv(PolicyEnvVar, "")

	policy, err := Load(LoadOptions{GlobalRoot: filepath.Join(t.TempDir(), "state")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if policy.Enabled {
		t.Error("implicit policy should be disabled without BDK_ENABLED")
	}

	d := Evaluate(t.TempDir(), policy, nil, CapabilityScan, now)
	if d.Kind != KindDeny || d.Reason != ReasonDisabled {
		t.Fatalf("Evaluate() = %+v, want deny/disabled", d)
	}
	if got := bdkerrors.ExitCodeOf(d.Err()); got != 10 {
		t.Errorf("exit code = %d, want 10", got)
	}
}

func TestLoad_EnvEnablesImplicitPolicy(t *testing.T) {
	t.Setenv(EnabledEnvVar, "1")
	t.Setenv(PolicyEnvVar, "")

	policy, err := Load(LoadOptions{GlobalRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !policy.Enabled {
		t.Fatal("BDK_ENABLED=1 should enable the implicit policy")
	}
	if d := Evaluate(t.TempDir(), policy, nil, CapabilityScan, now); !d.Allowed() {
		t.Errorf("Evaluate() = %+v, want allow", d)
	}
}

func TestLoad_ExplicitMissingFailsClosed(t *testing.T) {
	t.Setenv(PolicyEnvVar, "")
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.toml")})
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("Load() error = %v, want *PolicyError", err)
	}

	d := FailClosed(CapabilityScan, err)
	if d.Kind != KindFailClosed || d.Reason != ReasonPolicyParseError {
		t.Errorf("FailClosed() = %+v", d)
	}
	if got := bdkerrors.ExitCodeOf(d.Err()); got != 13 {
		t.Errorf("exit code = %d, want 13", got)
	}
}

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{"toml", "policy.toml", "enabled = true\nallow = [\"/a\"]\n[federation]\nallow = [\"/a\"]\n", false},
		{"yaml", "policy.yaml", "enabled: true\ndeny:\n  - /b\nhints:\n  allow: [/a]\n", false},
		{"json", "policy.json", `{"enabled": true, "allow": ["/a"]}`, false},
		{"empty yaml", "policy.yml", "", false},
		{"malformed toml", "policy.toml", "enabled = = true", true},
		{"unknown toml key", "policy.toml", "enabled = true\nalow = [\"/a\"]\n", true},
		{"unknown yaml key", "policy.yaml", "enabled: true\nalow: [/a]\n", true},
		{"unknown json key", "policy.json", `{"enabled": true, "alow": []}`, true},
		{"wrong type", "policy.toml", "enabled = \"yes\"\n", true},
		{"empty entry", "policy.toml", "enabled = true\ndeny = [\"\"]\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := Parse([]byte(tt.content), tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && policy.Source() != tt.file {
				t.Errorf("Source() = %q, want %q", policy.Source(), tt.file)
			}
		})
	}
}

func TestEvaluate_Precedence(t *testing.T) {
	base := t.TempDir()
	repoA := mkRepo(t, base, "a")
	repoB := mkRepo(t, base, "b")
	repoC := mkRepo(t, base, "c")

	policy := &Policy{Enabled: true, Deny: []string{repoB}, Allow: []string{repoA, repoB}}

	validToken := &Token{IssuedAt: now.Add(-time.Minute), TTLSeconds: 3600, Scope: []string{"scan"}}

	tests := []struct {
		name     string
		policy   *Policy
		repo     string
		token    *Token
		kind     Kind
		reason   string
		exitCode int
	}{
		{"disabled even with token", &Policy{Enabled: false}, repoA, validToken, KindDeny, ReasonDisabled, 10},
		{"nil policy", nil, repoA, nil, KindDeny, ReasonDisabled, 10},
		{"deny wins over allow", policy, repoB, nil, KindDeny, ReasonDenied, 11},
		{"token never overrides deny", policy, repoB, validToken, KindDeny, ReasonDenied, 11},
		{"allow listed", policy, repoA, nil, KindAllow, ReasonAllowed, 0},
		{"not allow listed", policy, repoC, nil, KindDeny, ReasonNotAllowListed, 12},
		{"token rescues allow miss", policy, repoC, validToken, KindAllow, ReasonAllowed, 0},
		{"empty allow list permits", &Policy{Enabled: true}, repoC, nil, KindAllow, ReasonAllowed, 0},
		{"subdirectory of allowed path", policy, mkRepo(t, repoA, "sub"), nil, KindAllow, ReasonAllowed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.repo, tt.policy, tt.token, CapabilityScan, now)
			if d.Kind != tt.kind || d.Reason != tt.reason {
				t.Fatalf("Evaluate() = %+v, want %s/%s", d, tt.kind, tt.reason)
			}
			if got := bdkerrors.ExitCodeOf(d.Err()); got != tt.exitCode {
				t.Errorf("exit code = %d, want %d", got, tt.exitCode)
			}
		})
	}
}

func TestEvaluate_SymlinkAliasCannotEscapeDeny(t *testing.T) {
	base := t.TempDir()
	repo := mkRepo(t, base, "secret-repo")
	alias := filepath.Join(base, "alias")
	if err := os.Symlink(repo, alias); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	policy := &Policy{Enabled: true, Deny: []string{repo}}
	if d := Evaluate(alias, policy, nil, CapabilityScan, now); d.Reason != ReasonDenied {
		t.Errorf("Evaluate(alias) = %+v, want denied", d)
	}

	// The deny entry itself may be the alias.
	policy = &Policy{Enabled: true, Deny: []string{alias}}
	if d := Evaluate(repo, policy, nil, CapabilityScan, now); d.Reason != ReasonDenied {
		t.Errorf("Evaluate(repo) with aliased deny = %+v, want denied", d)
	}
}

func TestEvaluate_RelativeEntriesResolveAgainstPolicyFile(t *testing.T) {
	base := t.TempDir()
	repo := mkRepo(t, base, "work")
	policyPath := filepath.Join(base, "policy.toml")
	writeFile(t, policyPath, "enabled = true\ndeny = [\"work\"]\n")

	policy, err := Load(LoadOptions{Path: policyPath})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d := Evaluate(repo, policy, nil, CapabilityScan, now); d.Reason != ReasonDenied {
		t.Errorf("Evaluate() = %+v, want denied", d)
	}
}

func TestEvaluate_TokenLifecycle(t *testing.T) {
	base := t.TempDir()
	repo := mkRepo(t, base, "repo")
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	policy := &Policy{Enabled: true, Allow: []string{filepath.Join(base, "elsewhere")}, TokenSecretHash: string(hash)}

	tests := []struct {
		name   string
		token  *Token
		reason string
		allow  bool
	}{
		{"valid", &Token{IssuedAt: now.Add(-time.Minute), TTLSeconds: 600, Scope: []string{"scan"}, Secret: "s3cret"}, ReasonAllowed, true},
		{"expired by ttl", &Token{IssuedAt: now.Add(-time.Hour), TTLSeconds: 60, Scope: []string{"scan"}, Secret: "s3cret"}, ReasonTokenExpired, false},
		{"expired by expires_at", &Token{ExpiresAt: now.Add(-time.Second), Scope: []string{"scan"}, Secret: "s3cret"}, ReasonTokenExpired, false},
		{"not yet issued", &Token{IssuedAt: now.Add(time.Hour), TTLSeconds: 7200, Scope: []string{"scan"}, Secret: "s3cret"}, ReasonTokenExpired, false},
		{"scope mismatch", &Token{IssuedAt: now, TTLSeconds: 600, Scope: []string{"federation"}, Secret: "s3cret"}, ReasonTokenScopeMismatch, false},
		{"bad secret", &Token{IssuedAt: now, TTLSeconds: 600, Scope: []string{"scan"}, Secret: "guess"}, ReasonTokenSecretMismatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(repo, policy, tt.token, CapabilityScan, now)
			if d.Allowed() != tt.allow || d.Reason != tt.reason {
				t.Fatalf("Evaluate() = %+v, want allow=%v reason=%s", d, tt.allow, tt.reason)
			}
			if tt.allow && !d.TokenUsed {
				t.Error("TokenUsed should be set when a token grants access")
			}
			if !tt.allow && bdkerrors.ExitCodeOf(d.Err()) != 12 {
				t.Errorf("exit code = %d, want 12", bdkerrors.ExitCodeOf(d.Err()))
			}
		})
	}
}

func TestEvaluate_ScanScopeDoesNotImplyFederation(t *testing.T) {
	base := t.TempDir()
	repo := mkRepo(t, base, "repo")
	policy := &Policy{Enabled: true, Allow: []string{repo}}
	scanToken := &Token{IssuedAt: now, TTLSeconds: 600, Scope: []string{"scan"}}

	for _, capability := range []Capability{CapabilityFederation, CapabilityHints} {
		d := Evaluate(repo, policy, scanToken, capability, now)
		if d.Allowed() {
			t.Fatalf("%s should not be granted by scan permission: %+v", capability, d)
		}
		if d.Reason != ReasonTokenScopeMismatch {
			t.Errorf("%s reason = %s, want %s", capability, d.Reason, ReasonTokenScopeMismatch)
		}
	}

	if got := bdkerrors.ExitCodeOf(Evaluate(repo, policy, nil, CapabilityFederation, now).Err()); got != 24 {
		t.Errorf("federation exit code = %d, want 24", got)
	}
	if got := bdkerrors.ExitCodeOf(Evaluate(repo, policy, nil, CapabilityHints, now).Err()); got != 23 {
		t.Errorf("hints exit code = %d, want 23", got)
	}

	policy.Federation.Allow = []string{repo}
	if d := Evaluate(repo, policy, nil, CapabilityFederation, now); !d.Allowed() {
		t.Errorf("federation allow list should grant: %+v", d)
	}
	fedToken := &Token{IssuedAt: now, TTLSeconds: 600, Scope: []string{"hints"}}
	if d := Evaluate(repo, policy, fedToken, CapabilityHints, now); !d.Allowed() {
		t.Errorf("hints token should grant: %+v", d)
	}
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken([]byte(`{"issued_at":"2026-03-01T11:00:00Z","ttl_seconds":7200,"scope":["scan","federation"]}`))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if want := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC); !tok.Expiry().Equal(want) {
		t.Errorf("Expiry() = %v, want %v", tok.Expiry(), want)
	}
	if !tok.HasScope(CapabilityFederation) || tok.HasScope(CapabilityHints) {
		t.Errorf("HasScope mismatch for %v", tok.Scope)
	}

	for _, bad := range []string{`{`, `{"scope":["scan"]}`, `{"issued_at":"2026-03-01T11:00:00Z","ttl_seconds":-1}`} {
		if _, err := ParseToken([]byte(bad)); err == nil {
			t.Errorf("ParseToken(%s) should fail", bad)
		}
	}
}

func TestLoadToken_Env(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	tok, err := LoadToken("")
	if err != nil || tok != nil {
		t.Fatalf("LoadToken() without sources = (%v, %v), want (nil, nil)", tok, err)
	}

	t.Setenv(TokenEnvVar, `{"expires_at":"2030-01-01T00:00:00Z","scope":["scan"]}`)
	tok, err = LoadToken("")
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if tok == nil || !tok.HasScope(CapabilityScan) {
		t.Errorf("LoadToken() = %+v, want scan-scoped token", tok)
	}
}

func TestHashSecretRoundTrip(t *testing.T) {
	hash, err := HashSecret("pw")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	tok := &Token{IssuedAt: now, TTLSeconds: 60, Scope: []string{"scan"}, Secret: "pw"}
	if got := tok.State(CapabilityScan, hash, now); got != TokenValid {
		t.Errorf("State() = %s, want valid", got)
	}
}

func TestSnapshotOf(t *testing.T) {
	policy, err := Parse([]byte("enabled = true\n"), "/etc/bdk/policy.toml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	d := Decision{Kind: KindAllow, Capability: CapabilityScan, Reason: ReasonAllowed}
	s := SnapshotOf(policy, d)
	if s.PolicySource != "/etc/bdk/policy.toml" || s.PolicyDigest == "" || s.Decision != KindAllow {
		t.Errorf("SnapshotOf() = %+v", s)
	}
	if policy.Digest() != s.PolicyDigest {
		t.Error("policy digest should be stable")
	}
}
