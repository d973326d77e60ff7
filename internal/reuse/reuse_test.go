package reuse

import (
	"testing"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/config"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func ratio(v float64) *float64 { return &v }

func summary(id string, age time.Duration) registry.RunSummary {
	return registry.RunSummary{
		RunID:           id,
		Outcome:         registry.OutcomeSuccess,
		CreatedAt:       now.Add(-age),
		ScannedAt:       now.Add(-age),
		RepoFingerprint: "state-1",
		VCSHead:         "abc",
		CacheHitRatio:   ratio(0.5),
		Artifacts:       []string{"/ws/runs/" + id + "/capabilities.json"},
	}
}

func current() Current {
	return Current{StateHash: "state-1", VCSHead: "abc", Exists: func(string) bool { return true }}
}

func policy() Policy {
	return Policy{Enabled: true, MaxAge: time.Hour, DriftPolicy: config.DriftStrict}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		history   []registry.RunSummary
		mutate    func(*Current, *Policy)
		wantReuse bool
		wantWhy   string
		wantDrift bool
	}{
		{"reuses fresh run", []registry.RunSummary{summary("run-1", time.Minute)}, nil, true, ReasonReused, false},
		{"disabled", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) { p.Enabled = false }, false, ReasonDisabled, false},
		{"empty history", nil, nil, false, ReasonNoHistory, false},
		{"too old", []registry.RunSummary{summary("run-1", 2 * time.Hour)}, nil, false, ReasonTooOld, false},
		{"scanned in the future", []registry.RunSummary{summary("run-1", -time.Hour)}, nil, false, ReasonTooOld, false},
		{"state drift strict", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) { c.StateHash = "state-2" }, false, ReasonDrift, true},
		{"head drift strict", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) { c.VCSHead = "def" }, false, ReasonDrift, true},
		{"drift warn reuses with flag", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) {
			c.StateHash = "state-2"
			p.DriftPolicy = config.DriftWarn
		}, true, ReasonReused, true},
		{"artifacts missing", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) {
			c.Exists = func(string) bool { return false }
		}, false, ReasonArtifactsMissing, false},
		{"ratio below minimum", []registry.RunSummary{summary("run-1", time.Minute)}, func(c *Current, p *Policy) { p.MinCacheHitRatio = 0.9 }, false, ReasonRatioLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, p := current(), policy()
			if tt.mutate != nil {
				tt.mutate(&c, &p)
			}
			d := Decide(tt.history, c, p, now)
			if d.Reuse != tt.wantReuse || d.Reason != tt.wantWhy || d.Drift != tt.wantDrift {
				t.Errorf("Decide() = {Reuse:%v Reason:%s Drift:%v}, want {%v %s %v}",
					d.Reuse, d.Reason, d.Drift, tt.wantReuse, tt.wantWhy, tt.wantDrift)
			}
		})
	}
}

func TestDecideRatioUnknown(t *testing.T) {
	s := summary("run-1", time.Minute)
	s.CacheHitRatio = nil
	d := Decide([]registry.RunSummary{s}, current(), policy(), now)
	if d.Reuse || d.Reason != ReasonRatioUnknown {
		t.Errorf("Decide() = %+v, want %s", d, ReasonRatioUnknown)
	}
}

func TestDecideNoArtifactsDeclared(t *testing.T) {
	s := summary("run-1", time.Minute)
	s.Artifacts = nil
	d := Decide([]registry.RunSummary{s}, current(), policy(), now)
	if d.Reason != ReasonArtifactsMissing {
		t.Errorf("Reason = %s, want %s", d.Reason, ReasonArtifactsMissing)
	}
}

func TestDecideSkipsUnsuccessfulRuns(t *testing.T) {
	failed := summary("run-2", 0)
	failed.Outcome = "failed"
	d := Decide([]registry.RunSummary{failed, summary("run-1", time.Minute)}, current(), policy(), now)
	if !d.Reuse || d.SourceRunID != "run-1" {
		t.Errorf("Decide() = %+v, want reuse of run-1", d)
	}
}

func TestDecideKeepsLineage(t *testing.T) {
	reused := summary("run-2", time.Minute)
	reused.Outcome = registry.OutcomeReused
	reused.Reused = true
	reused.ReusedFrom = "run-1"
	reused.ScannedAt = now.Add(-2 * time.Hour)

	d := Decide([]registry.RunSummary{reused}, current(), policy(), now)
	if d.Reason != ReasonTooOld {
		t.Errorf("age must count from the origin scan: Reason = %s", d.Reason)
	}

	reused.ScannedAt = now.Add(-10 * time.Minute)
	d = Decide([]registry.RunSummary{reused}, current(), policy(), now)
	if !d.Reuse || d.SourceRunID != "run-2" || d.OriginRunID != "run-1" {
		t.Errorf("Decide() = %+v, want source run-2 origin run-1", d)
	}
}

func TestDecideIsStable(t *testing.T) {
	history := []registry.RunSummary{summary("run-1", time.Minute)}
	first := Decide(history, current(), policy(), now)
	for i := 0; i < 5; i++ {
		if got := Decide(history, current(), policy(), now); got != first {
			t.Fatalf("Decide() not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Reuse
	if PolicyFromConfig(cfg, false).Enabled {
		t.Error("reuse is off by default")
	}
	p := PolicyFromConfig(cfg, true)
	if !p.Enabled || p.MaxAge != 24*time.Hour || p.DriftPolicy != config.DriftStrict {
		t.Errorf("PolicyFromConfig() = %+v", p)
	}
}
