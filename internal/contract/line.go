// Package contract renders and parses the one-line machine records bdk
// writes to stdout, and validates them against versioned JSON schemas.
//
// A line is
//
//	<TOKEN> key=value ... schema_version=N json=<compact JSON>
//
// The json field is always last and runs to the end of the line, so the
// payload may contain spaces. Values containing spaces, quotes or '=' are
// Go-quoted.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CurrentVersion is the schema version new lines are written with.
const CurrentVersion = 2

// Kind identifies a record kind.
type Kind string

// Record kinds. caps, status, gov_block and mismatch exist since v1; reuse,
// index and hints were added in v2.
const (
	KindCaps     Kind = "caps"
	KindStatus   Kind = "status"
	KindGovBlock Kind = "gov_block"
	KindMismatch Kind = "mismatch"
	KindReuse    Kind = "reuse"
	KindIndex    Kind = "index"
	KindHints    Kind = "hints"
)

var tokens = map[Kind]string{
	KindCaps:     "BDK_CAPS",
	KindStatus:   "BDK_STATUS",
	KindGovBlock: "BDK_GOV_BLOCK",
	KindMismatch: "BDK_MISMATCH",
	KindReuse:    "BDK_REUSE",
	KindIndex:    "BDK_INDEX",
	KindHints:    "BDK_HINTS",
}

// Token returns the leading token of kind.
func (k Kind) Token() string { return tokens[k] }

// KindOf returns the kind of a leading token.
func KindOf(token string) (Kind, bool) {
	for k, t := range tokens {
		if t == token {
			return k, true
		}
	}
	return "", false
}

const (
	fieldVersion = "schema_version"
	fieldJSON    = "json"
)

// Field is one key=value pair of a line.
type Field struct {
	Key   string
	Value string
}

// Line is a parsed machine record.
type Line struct {
	Kind          Kind
	Fields        []Field
	SchemaVersion int
	Payload       json.RawMessage
}

// Get returns the value of a key=value field.
func (l *Line) Get(key string) (string, bool) {
	for _, f := range l.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Decode unmarshals the payload into v.
func (l *Line) Decode(v interface{}) error {
	return json.Unmarshal(l.Payload, v)
}

// Format renders one line. The payload is marshaled to compact JSON with
// schema_version set to version.
func Format(kind Kind, version int, fields []Field, payload interface{}) (string, error) {
	token := kind.Token()
	if token == "" {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	body, err := withVersion(payload, version)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(token)
	for _, f := range fields {
		if f.Key == fieldVersion || f.Key == fieldJSON || !validKey(f.Key) {
			return "", fmt.Errorf("invalid field key %q", f.Key)
		}
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(quote(f.Value))
	}
	fmt.Fprintf(&b, " %s=%d %s=%s", fieldVersion, version, fieldJSON, body)
	return b.String(), nil
}

func withVersion(payload interface{}, version int) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	doc[fieldVersion] = version

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"=\n") {
		return strconv.Quote(v)
	}
	return v
}

// Parse splits a line into kind, fields and payload.
func Parse(line string) (*Line, error) {
	line = strings.TrimRight(line, "\r\n")
	token, rest, _ := strings.Cut(line, " ")
	kind, ok := KindOf(token)
	if !ok {
		return nil, fmt.Errorf("unknown record token %q", token)
	}

	l := &Line{Kind: kind}
	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		key, after, found := strings.Cut(rest, "=")
		if !found || !validKey(key) {
			return nil, fmt.Errorf("malformed field near %q", truncate(rest))
		}
		if key == fieldJSON {
			if !json.Valid([]byte(after)) {
				return nil, fmt.Errorf("json payload is not valid JSON")
			}
			l.Payload = json.RawMessage(after)
			break
		}

		var value string
		if strings.HasPrefix(after, `"`) {
			quoted, err := strconv.QuotedPrefix(after)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			value, _ = strconv.Unquote(quoted)
			rest = after[len(quoted):]
		} else {
			value, rest, _ = strings.Cut(after, " ")
		}

		if key == fieldVersion {
			v, err := strconv.Atoi(value)
			if err != nil || v < 1 {
				return nil, fmt.Errorf("invalid schema_version %q", value)
			}
			l.SchemaVersion = v
			continue
		}
		l.Fields = append(l.Fields, Field{Key: key, Value: value})
	}

	if l.SchemaVersion == 0 {
		return nil, fmt.Errorf("%s line has no schema_version", token)
	}
	if l.Payload == nil {
		return nil, fmt.Errorf("%s line has no json payload", token)
	}
	return l, nil
}

// payloadKeys returns the sorted top-level keys of the payload.
func (l *Line) payloadKeys() ([]string, map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(l.Payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, doc, nil
}

func truncate(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}
