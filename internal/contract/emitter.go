package contract

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// keyFields are the payload fields repeated as key=value pairs, in order.
var keyFields = map[Kind][]string{
	KindCaps:     {"project_id", "run_id", "path_to_capabilities", "reused", "reused_from"},
	KindStatus:   {"status", "exit_code", "reason", "run_id"},
	KindGovBlock: {"capability", "decision", "reason", "exit_code"},
	KindMismatch: {"mismatch_reason", "path"},
	KindReuse:    {"reuse", "reason", "source_run_id", "run_id"},
	KindIndex:    {"backend", "published", "skip_reason", "path"},
	KindHints:    {"direction", "path", "skipped"},
}

// Status values of BDK_STATUS.
const (
	StatusOK        = "ok"
	StatusBlocked   = "blocked"
	StatusError     = "error"
	StatusMismatch  = "mismatch"
	StatusViolation = "violation"
)

// Caps is the BDK_CAPS payload: the pointer to a run's capabilities.
type Caps struct {
	ProjectID          string    `json:"project_id"`
	RunID              string    `json:"run_id"`
	PathToCapabilities string    `json:"path_to_capabilities"`
	GraphFingerprint   string    `json:"graph_fingerprint,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Reused             bool      `json:"reused"`
	ReusedFrom         string    `json:"reused_from,omitempty"`
	CacheHitRatio      *float64  `json:"cache_hit_ratio"`
	ConfidenceTier     string    `json:"confidence_tier,omitempty"`
	Ambiguity          int       `json:"ambiguity"`
	FileCount          int       `json:"file_count"`
	ReadOnlyOptOut     bool      `json:"readonly_opt_out"`
}

// Status is the BDK_STATUS payload closing every invocation.
type Status struct {
	Status         string `json:"status"`
	ExitCode       int    `json:"exit_code"`
	Reason         string `json:"reason"`
	Detail         string `json:"detail,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	RunID          string `json:"run_id,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Drift          bool   `json:"drift,omitempty"`
	ReadOnlyOptOut bool   `json:"readonly_opt_out,omitempty"`
}

// GovBlock is the BDK_GOV_BLOCK payload.
type GovBlock struct {
	Capability string `json:"capability"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	ExitCode   int    `json:"exit_code"`
	Detail     string `json:"detail,omitempty"`
	TokenUsed  bool   `json:"token_used"`
}

// MismatchRecord is the BDK_MISMATCH payload.
type MismatchRecord struct {
	MismatchReason string `json:"mismatch_reason"`
	Detail         string `json:"detail"`
	Path           string `json:"path,omitempty"`
	Expected       string `json:"expected,omitempty"`
	Observed       string `json:"observed,omitempty"`
	Source         string `json:"source,omitempty"`
}

// Reuse is the BDK_REUSE payload.
type Reuse struct {
	Reuse       bool   `json:"reuse"`
	Reason      string `json:"reason"`
	RunID       string `json:"run_id,omitempty"`
	SourceRunID string `json:"source_run_id,omitempty"`
	OriginRunID string `json:"origin_run_id,omitempty"`
	Drift       bool   `json:"drift"`
	Detail      string `json:"detail,omitempty"`
}

// Index is the BDK_INDEX payload.
type Index struct {
	Backend    string `json:"backend"`
	Path       string `json:"path,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Published  bool   `json:"published"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// Hints is the BDK_HINTS payload.
type Hints struct {
	Direction  string `json:"direction"`
	Path       string `json:"path"`
	Digest     string `json:"digest,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	Signals    int    `json:"signals"`
}

// Emitter writes machine lines. It is safe for concurrent use.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	version int
}

// NewEmitter returns an emitter writing CurrentVersion lines to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, version: CurrentVersion}
}

// Emit renders payload as a kind line. Key fields are taken from the
// payload.
func (e *Emitter) Emit(kind Kind, payload interface{}) (string, error) {
	fields, err := fieldsOf(kind, payload)
	if err != nil {
		return "", err
	}
	line, err := Format(kind, e.version, fields, payload)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintln(e.w, line); err != nil {
		return "", fmt.Errorf("write %s line: %w", kind.Token(), err)
	}
	return line, nil
}

func fieldsOf(kind Kind, payload interface{}) ([]Field, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	var fields []Field
	for _, key := range keyFields[kind] {
		v, ok := doc[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			if x == "" {
				continue
			}
			s = x
		case bool:
			s = strconv.FormatBool(x)
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			continue
		}
		fields = append(fields, Field{Key: key, Value: s})
	}
	return fields, nil
}
