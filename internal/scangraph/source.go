package scangraph

import (
	"context"
	"log/slog"
)

// HintSource contributes hints that do not come from walking the tree, such
// as an imported hint bundle.
type HintSource interface {
	Name() string
	Hints(ctx context.Context) (map[string][]string, error)
}

// StaticSource serves a fixed set of hints.
type StaticSource struct {
	Label   string
	Signals map[string][]string
}

// Name returns the source label
func (s StaticSource) Name() string {
	return s.Label
}

// Hints returns the fixed signals
func (s StaticSource) Hints(context.Context) (map[string][]string, error) {
	return s.Signals, nil
}

// withSources returns a copy of graph whose content hints include every
// source's signals. A failing source is logged and skipped.
func withSources(ctx context.Context, graph *ScanGraph, sources []HintSource, logger *slog.Logger) *ScanGraph {
	if len(sources) == 0 {
		return graph
	}
	merged := make(map[string][]string, len(graph.ContentHints))
	for kind, signals := range graph.ContentHints {
		merged[kind] = append([]string(nil), signals...)
	}
	for _, src := range sources {
		hints, err := src.Hints(ctx)
		if err != nil {
			logger.Warn("Hint source failed, skipping", "source", src.Name(), "error", err.Error())
			continue
		}
		for kind, signals := range hints {
			merged[kind] = append(merged[kind], signals...)
		}
	}
	for kind, signals := range merged {
		merged[kind] = dedupeSorted(signals)
	}

	out := *graph
	out.ContentHints = merged
	return &out
}
