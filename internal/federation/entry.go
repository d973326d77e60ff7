// Package federation maintains the cross-project index of capability
// summaries and answers ranked queries over it.
package federation

import (
	"strings"
	"time"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/scangraph"
)

// SchemaVersion of the federated index document and database.
const SchemaVersion = 1

// Entry is the federated summary of one project's latest run.
type Entry struct {
	ProjectID        string    `json:"project_id"`
	RunID            string    `json:"run_id"`
	RepoRoot         string    `json:"repo_root"`
	RepoFingerprint  string    `json:"repo_fingerprint"`
	PrimaryLanguage  string    `json:"primary_language,omitempty"`
	ConfidenceTier   string    `json:"confidence_tier"`
	Ambiguity        int       `json:"ambiguity"`
	Endpoints        []string  `json:"endpoints,omitempty"`
	Keywords         []string  `json:"keywords,omitempty"`
	CapabilitiesPath string    `json:"capabilities_path"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EntryFromGraph summarizes a scan graph for the federated index.
func EntryFromGraph(projectID, runID, repoRoot, repoFingerprint, capsPath string, g *scangraph.ScanGraph, now time.Time) Entry {
	e := Entry{
		ProjectID:        projectID,
		RunID:            runID,
		RepoRoot:         repoRoot,
		RepoFingerprint:  repoFingerprint,
		CapabilitiesPath: capsPath,
		UpdatedAt:        now.UTC(),
	}
	if g != nil {
		e.PrimaryLanguage = g.PrimaryLanguage
		e.ConfidenceTier = g.ConfidenceTier
		e.Ambiguity = g.Ambiguity
		e.Endpoints = append([]string(nil), g.ContentHints[scangraph.HintRoutes]...)
		e.Keywords = append([]string(nil), g.ContentHints[scangraph.HintKeywords]...)
	}
	return e
}

// Filter selects and ranks entries. An empty filter returns every entry by
// recency.
type Filter struct {
	// Endpoint matches a declared route exactly, either "METHOD /path" or
	// just the path
	Endpoint string
	// Keyword matches a keyword case-insensitively
	Keyword string
	// Limit caps the result count; zero means no cap
	Limit int
}

func (f Filter) empty() bool {
	return f.Endpoint == "" && f.Keyword == ""
}

// Match is one ranked query result.
type Match struct {
	Entry
	EndpointMatch bool `json:"endpoint_match"`
	KeywordMatch  bool `json:"keyword_match"`
}

func endpointPath(endpoint string) string {
	if i := strings.IndexByte(endpoint, ' '); i >= 0 {
		return endpoint[i+1:]
	}
	return endpoint
}

func matchEndpoint(endpoints []string, want string) bool {
	if want == "" {
		return false
	}
	for _, ep := range endpoints {
		if ep == want || endpointPath(ep) == want {
			return true
		}
	}
	return false
}

func matchKeyword(keywords []string, want string) bool {
	if want == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.EqualFold(kw, want) {
			return true
		}
	}
	return false
}
