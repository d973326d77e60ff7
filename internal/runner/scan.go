package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/contract"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/federation"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/governance"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/guard"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/hints"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/registry"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/repostate"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/reuse"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/version"
)

// outcome is what the guarded part of a run produced.
type outcome struct {
	state  *repostate.RepoState
	graph  *scangraph.ScanGraph
	reused *registry.RunSummary
}

func (inv *invocation) registry() *registry.Registry {
	return registry.New(inv.roots.GlobalRoot, inv.cfg.Registry.MaxRuns, inv.logger)
}

// execute runs inside the read-only guard. It either reuses a verified
// previous run or builds a fresh scan graph; it never mixes the two.
func (inv *invocation) execute(ctx context.Context, before *guard.Snapshot) (*outcome, error) {
	if err := inv.roots.EnsureDirs(); err != nil {
		return nil, err
	}
	root := inv.roots.RepoRoot
	producers := version.Producers()
	matcher := scangraph.NewMatcher(inv.cfg.Scan.Ignore)

	content, err := scangraph.FingerprintFromSnapshot([]string{root}, before, matcher)
	if err != nil {
		return nil, fmt.Errorf("compute repository fingerprint: %w", err)
	}
	out := &outcome{state: repostate.Compute(ctx, root, content)}

	policy := reuse.PolicyFromConfig(inv.cfg.Reuse, inv.opts.SmartReuse)
	if policy.Enabled {
		history, err := inv.registry().History(inv.roots.ProjectID)
		if err != nil {
			return nil, err
		}
		d := reuse.Decide(history, reuse.Current{
			StateHash: out.state.StateID,
			VCSHead:   out.state.VCSHead,
			Exists:    exists,
		}, policy, inv.now())
		inv.res.Reuse = &d

		if d.Reuse && inv.strict && inv.extraHints() {
			d.Reuse = false
			d.Reason = reuse.ReasonHintsImported
			d.Detail = "a reused graph cannot carry imported hints"
			inv.logger.Info("Smart reuse declined, imported hints need a fresh scan",
				"source_run_id", d.SourceRunID,
			)
		}
		if d.Reuse {
			src := findRun(history, d.SourceRunID)
			graph, m := verifySource(src, producers)
			if m == nil {
				if err := scangraph.CheckStrict(graph, inv.strict, inv.logger); err != nil {
					return nil, err
				}
				if inv.extraHints() {
					inv.logger.Warn("Imported hints are not applied to a reused run",
						"source_run_id", d.SourceRunID,
					)
				}
				out.graph = graph
				out.reused = src
				inv.logger.Info("Reusing previous scan",
					"source_run_id", d.SourceRunID,
					"origin_run_id", d.OriginRunID,
					"drift", d.Drift,
				)
				return out, nil
			}
			inv.res.Mismatch = m
			if inv.strict {
				return nil, m.Err()
			}
			inv.emitMismatch(m, "reuse")
			d.Reuse = false
			d.Reason = reuse.ReasonSourceMismatch
			d.Detail = string(m.Reason)
			inv.res.Reuse = &d
		} else {
			inv.logger.Debug("Smart reuse declined", "reason", d.Reason, "detail", d.Detail)
		}
	}

	sources := append([]scangraph.HintSource(nil), inv.opts.Sources...)
	if src := inv.imported.Source(); src != nil {
		sources = append(sources, src)
	}
	res, err := scangraph.Build(ctx, scangraph.Request{
		Root:             root,
		ProducerVersions: producers,
		Ignore:           inv.cfg.Scan.Ignore,
		Limits: scangraph.Limits{
			MaxFiles:     inv.cfg.Scan.MaxFiles,
			MaxDuration:  inv.cfg.Scan.MaxDuration,
			MaxFileBytes: inv.cfg.Scan.MaxFileBytes,
		},
		CacheDir:  inv.roots.ScanCacheDir(),
		GraphPath: inv.roots.ScanGraphPath(),
		Strict:    inv.strict,
		Baseline:  before,
		Sources:   sources,
		Logger:    inv.logger,
		Now:       inv.now,
	})
	if res != nil && res.Mismatch != nil {
		inv.res.Mismatch = res.Mismatch
		if err == nil {
			inv.emitMismatch(res.Mismatch, "cache")
		}
	}
	if err != nil {
		return nil, err
	}
	out.graph = res.Graph
	return out, nil
}

// extraHints reports whether the run brings hints a reused graph would not
// contain.
func (inv *invocation) extraHints() bool {
	return len(inv.opts.Sources) > 0 || (inv.imported != nil && !inv.imported.Skipped)
}

// verifySource checks that the scan graph a history entry references is
// still the one that run produced.
func verifySource(src *registry.RunSummary, producers map[string]string) (*scangraph.ScanGraph, *scangraph.Mismatch) {
	if src == nil {
		return nil, &scangraph.Mismatch{Reason: scangraph.ReasonUnknown, Detail: "source run not found in history"}
	}
	graph, err := scangraph.LoadGraph(src.ScanGraph)
	if err != nil {
		return nil, &scangraph.Mismatch{
			Reason: scangraph.ReasonCacheCorrupt,
			Detail: fmt.Sprintf("source scan graph unreadable: %v", err),
			Path:   src.ScanGraph,
		}
	}
	m := scangraph.Verify(graph, scangraph.Expectation{
		SchemaVersion:    scangraph.SchemaVersion,
		ProducerVersions: producers,
		GraphFingerprint: src.GraphFingerprint,
	}, src.ScanGraph)
	if m != nil {
		return nil, m
	}
	return graph, nil
}

// commit persists a verified run and reports it.
func (inv *invocation) commit(ctx context.Context, out *outcome, report *guard.Report) error {
	now := inv.now().UTC()
	runID := registry.NewRunID(now)
	inv.res.RunID = runID
	inv.res.Graph = out.graph
	g := out.graph
	roots := inv.roots

	ioStats := g.IOStats
	summary := registry.RunSummary{
		RunID:            runID,
		Command:          CommandScan,
		Outcome:          registry.OutcomeSuccess,
		CreatedAt:        now,
		ScannedAt:        now,
		RepoFingerprint:  out.state.StateID,
		GraphFingerprint: g.GraphFingerprint,
		VCSHead:          out.state.VCSHead,
		CacheKey:         g.CacheKey,
		FileCount:        g.FileCount(),
		ConfidenceTier:   g.ConfidenceTier,
		Ambiguity:        g.Ambiguity,
		ReadOnlyOptOut:   report.OptOut,
	}
	meta := registry.RunMeta{
		SchemaVersion: registry.RunMetaSchemaVersion,
		RunID:         runID,
		ProjectID:     roots.ProjectID,
		Command:       CommandScan,
		StartedAt:     inv.startedAt,
		FinishedAt:    now,
		ReadOnly: registry.ReadOnlyEvidence{
			BeforeDigest: report.BeforeDigest,
			AfterDigest:  report.AfterDigest,
			Verified:     report.Verified(),
			OptOut:       report.OptOut,
			Changed:      changedPaths(report),
		},
		Governance: governance.SnapshotOf(inv.policy, inv.scan),
		Versions:   version.Producers(),
	}

	var caps *registry.Capabilities
	var bundle *hints.Bundle
	if src := out.reused; src != nil {
		d := inv.res.Reuse
		one := 1.0
		ioStats = scangraph.IOStats{CacheHits: g.FileCount(), CacheHitRatio: &one}

		// the reused artifacts describe the origin scan's repository state
		summary.RepoFingerprint = src.RepoFingerprint
		summary.VCSHead = src.VCSHead
		summary.Outcome = registry.OutcomeReused
		summary.Reused = true
		summary.ReusedFrom = d.OriginRunID
		summary.ScannedAt = src.ScannedAt
		summary.Drift = d.Drift
		summary.Capabilities = src.Capabilities
		summary.ScanGraph = src.ScanGraph
		summary.Artifacts = append([]string(nil), src.Artifacts...)

		meta.Outcome = registry.OutcomeReused
		meta.ReusedFrom = d.OriginRunID
		meta.ScanGraphRef = src.ScanGraph
		for _, a := range src.Artifacts {
			meta.ArtifactsManifest = append(meta.ArtifactsManifest, registry.Artifact{Name: artifactName(a), Path: a})
		}
	} else {
		runDir := roots.RunWorkspaceDir(runID)
		capsPath := filepath.Join(runDir, paths.CapabilitiesFile)
		bundlePath := filepath.Join(runDir, paths.HintBundleFile)
		graphPath := filepath.Join(runDir, paths.ScanGraphFile)

		caps = registry.CapabilitiesFromGraph(runID, roots.ProjectID, roots.RepoRoot, out.state.StateID, out.state.VCSHead, g, now)
		var err error
		if bundle, err = hints.New(roots.ProjectID, runID, g.ContentHints, now); err != nil {
			return err
		}
		if err := hints.Write(bundlePath, bundle); err != nil {
			return err
		}
		// the workspace scan_graph.json is rewritten by every build; the run
		// keeps its own immutable copy for audit and reuse
		if err := scangraph.WriteGraph(graphPath, g); err != nil {
			return err
		}

		summary.Capabilities = capsPath
		summary.ScanGraph = graphPath
		summary.Artifacts = []string{capsPath, graphPath, bundlePath}

		meta.Outcome = registry.OutcomeSuccess
		meta.ScanGraphRef = graphPath
		meta.ArtifactsManifest = []registry.Artifact{
			{Name: "capabilities", Path: capsPath},
			{Name: "scan_graph", Path: graphPath},
			{Name: "hint_bundle", Path: bundlePath},
		}
	}
	summary.CacheHitRatio = ioStats.CacheHitRatio
	summary.ContentReads = ioStats.ContentReads

	journal := map[string]interface{}{
		"run_id":            runID,
		"project_id":        roots.ProjectID,
		"outcome":           summary.Outcome,
		"created_at":        now,
		"graph_fingerprint": summary.GraphFingerprint,
		"capabilities":      summary.Capabilities,
		"reused_from":       summary.ReusedFrom,
		"io_stats":          ioStats,
	}
	err := inv.registry().Record(ctx, registry.Outcome{
		Roots:        roots,
		RepoRoot:     roots.RepoRoot,
		Summary:      summary,
		Meta:         meta,
		Capabilities: caps,
		Governance:   meta.Governance,
		Versions:     meta.Versions,
		Journal:      journal,
	})
	if err != nil {
		return err
	}
	inv.res.Summary = &summary

	if inv.fed != nil {
		if err := inv.federate(ctx, summary, g); err != nil {
			return err
		}
	}

	if bundle != nil {
		inv.emitHints(contract.Hints{
			Direction: "export",
			Path:      summary.Artifacts[2],
			Digest:    bundle.Digest,
			ProjectID: roots.ProjectID,
			RunID:     runID,
			Signals:   importedSignals(&hints.Imported{Bundle: bundle}),
		})
	}
	if d := inv.res.Reuse; d != nil {
		inv.emit(contract.KindReuse, contract.Reuse{
			Reuse:       out.reused != nil,
			Reason:      d.Reason,
			RunID:       runID,
			SourceRunID: d.SourceRunID,
			OriginRunID: d.OriginRunID,
			Drift:       d.Drift,
			Detail:      d.Detail,
		})
	}
	inv.emit(contract.KindCaps, capsLine(roots.ProjectID, &summary))
	inv.emit(contract.KindStatus, contract.Status{
		Status:         contract.StatusOK,
		Reason:         summary.Outcome,
		ProjectID:      roots.ProjectID,
		RunID:          runID,
		Outcome:        summary.Outcome,
		Drift:          summary.Drift,
		ReadOnlyOptOut: summary.ReadOnlyOptOut,
	})
	inv.logger.Info("Scan complete",
		"run_id", runID,
		"outcome", summary.Outcome,
		"files", summary.FileCount,
		"content_reads", summary.ContentReads,
		"confidence", summary.ConfidenceTier,
	)
	return nil
}

func (inv *invocation) federate(ctx context.Context, summary registry.RunSummary, g *scangraph.ScanGraph) error {
	store, err := federation.Open(inv.roots.GlobalRoot, inv.cfg.Federation)
	if err != nil {
		return err
	}
	defer store.Close()

	entry := federation.EntryFromGraph(inv.roots.ProjectID, summary.RunID, inv.roots.RepoRoot,
		summary.RepoFingerprint, summary.Capabilities, g, summary.CreatedAt)
	res, err := federation.Publish(ctx, store, entry, *inv.fed, inv.strict, inv.logger)
	if err != nil {
		return err
	}
	inv.res.Index = res
	inv.emit(contract.KindIndex, contract.Index{
		Backend:    inv.cfg.Federation.Backend,
		Path:       res.Path,
		ProjectID:  inv.roots.ProjectID,
		RunID:      summary.RunID,
		Published:  res.Published,
		Skipped:    res.Skipped,
		SkipReason: res.SkipReason,
	})
	return nil
}

// capsLine renders the capability pointer of a history entry.
func capsLine(projectID string, s *registry.RunSummary) contract.Caps {
	return contract.Caps{
		ProjectID:          projectID,
		RunID:              s.RunID,
		PathToCapabilities: s.Capabilities,
		GraphFingerprint:   s.GraphFingerprint,
		CreatedAt:          s.CreatedAt,
		Reused:             s.Reused,
		ReusedFrom:         s.ReusedFrom,
		CacheHitRatio:      s.CacheHitRatio,
		ConfidenceTier:     s.ConfidenceTier,
		Ambiguity:          s.Ambiguity,
		FileCount:          s.FileCount,
		ReadOnlyOptOut:     s.ReadOnlyOptOut,
	}
}

func findRun(history []registry.RunSummary, runID string) *registry.RunSummary {
	for i := range history {
		if history[i].RunID == runID {
			return &history[i]
		}
	}
	return nil
}

func changedPaths(report *guard.Report) []string {
	out := make([]string, 0, len(report.Changes))
	for _, c := range report.Changes {
		out = append(out, c.Path)
	}
	return out
}

func artifactName(path string) string {
	switch filepath.Base(path) {
	case paths.CapabilitiesFile:
		return "capabilities"
	case paths.ScanGraphFile:
		return "scan_graph"
	case paths.HintBundleFile:
		return "hint_bundle"
	default:
		return filepath.Base(path)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
