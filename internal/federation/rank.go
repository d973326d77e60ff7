package federation

import (
	"sort"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
)

func confidenceRank(tier string) int {
	switch tier {
	case scangraph.ConfidenceHigh:
		return 3
	case scangraph.ConfidenceMedium:
		return 2
	case scangraph.ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Rank filters and orders entries. With a non-empty filter only entries
// matching at least one criterion are kept. Order: endpoint match, keyword
// match, recency, lower ambiguity, higher confidence, then project id and
// run id, so equal inputs always rank identically.
func Rank(entries []Entry, f Filter) []Match {
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		m := Match{
			Entry:         e,
			EndpointMatch: matchEndpoint(e.Endpoints, f.Endpoint),
			KeywordMatch:  matchKeyword(e.Keywords, f.Keyword),
		}
		if !f.empty() && !m.EndpointMatch && !m.KeywordMatch {
			continue
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.EndpointMatch != b.EndpointMatch {
			return a.EndpointMatch
		}
		if a.KeywordMatch != b.KeywordMatch {
			return a.KeywordMatch
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.Ambiguity != b.Ambiguity {
			return a.Ambiguity < b.Ambiguity
		}
		if ca, cb := confidenceRank(a.ConfidenceTier), confidenceRank(b.ConfidenceTier); ca != cb {
			return ca > cb
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.RunID < b.RunID
	})

	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}
	return matches
}

// evict keeps the maxEntries most recently updated entries.
func evict(entries []Entry, maxEntries int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].ProjectID < entries[j].ProjectID
	})
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	return entries
}
