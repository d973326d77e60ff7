package contract

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas
var schemaFS embed.FS

// Versions lists every schema version, oldest first.
var Versions = []int{1, 2}

type property struct {
	Type interface{}   `json:"type"`
	Enum []interface{} `json:"enum,omitempty"`
}

type schemaDoc struct {
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required"`

	raw      []byte
	compiled *jsonschema.Schema
}

type schemaSet map[Kind]*schemaDoc

var (
	loadOnce sync.Once
	loaded   map[int]schemaSet
	loadErr  error
)

func schemas() (map[int]schemaSet, error) {
	loadOnce.Do(func() {
		loaded = map[int]schemaSet{}
		for _, v := range Versions {
			dir := fmt.Sprintf("schemas/v%d", v)
			entries, err := schemaFS.ReadDir(dir)
			if err != nil {
				loadErr = fmt.Errorf("read %s: %w", dir, err)
				return
			}
			set := schemaSet{}
			for _, e := range entries {
				name := strings.TrimSuffix(e.Name(), ".schema.json")
				data, err := schemaFS.ReadFile(path.Join(dir, e.Name()))
				if err != nil {
					loadErr = err
					return
				}
				doc := &schemaDoc{raw: data}
				if err := json.Unmarshal(data, doc); err != nil {
					loadErr = fmt.Errorf("decode %s: %w", e.Name(), err)
					return
				}
				compiled, err := jsonschema.NewCompiler().Compile(data)
				if err != nil {
					loadErr = fmt.Errorf("compile %s: %w", e.Name(), err)
					return
				}
				doc.compiled = compiled
				set[Kind(name)] = doc
			}
			loaded[v] = set
		}
	})
	return loaded, loadErr
}

func schemaFor(kind Kind, version int) (*schemaDoc, bool, error) {
	all, err := schemas()
	if err != nil {
		return nil, false, err
	}
	set, ok := all[version]
	if !ok {
		return nil, false, fmt.Errorf("unknown schema version %d", version)
	}
	doc, ok := set[kind]
	return doc, ok, nil
}

// Schema returns the raw JSON schema of kind at version.
func Schema(kind Kind, version int) ([]byte, error) {
	doc, ok, err := schemaFor(kind, version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("kind %s is not defined in schema v%d", kind, version)
	}
	return doc.raw, nil
}

// Report is the outcome of validating one line.
type Report struct {
	Kind          Kind     `json:"kind"`
	SchemaVersion int      `json:"schema_version"`
	Valid         bool     `json:"valid"`
	UnknownKind   bool     `json:"unknown_kind,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Validate checks a line against the schema of version. Fields the schema
// does not define are reported one by one; the remaining shared fields are
// validated independently, so a single added field never masks the result of
// the others.
func Validate(line string, version int) (*Report, error) {
	l, err := Parse(line)
	if err != nil {
		return nil, err
	}
	r, err := check(l, version)
	if err != nil {
		return nil, err
	}
	if r.UnknownKind {
		r.Errors = append(r.Errors, fmt.Sprintf("kind %s is not defined in schema v%d", l.Kind, version))
	}
	for _, f := range r.UnknownFields {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: field is not defined in schema v%d", f, version))
	}
	r.Valid = len(r.Errors) == 0
	return r, nil
}

// CheckCompat validates a line against an older baseline schema. Kinds and
// fields the baseline does not know are additions: they are reported but do
// not fail the check. Shared fields must still satisfy the baseline.
func CheckCompat(line string, baseline int) (*Report, error) {
	l, err := Parse(line)
	if err != nil {
		return nil, err
	}
	r, err := check(l, baseline)
	if err != nil {
		return nil, err
	}
	r.Valid = len(r.Errors) == 0
	return r, nil
}

func check(l *Line, version int) (*Report, error) {
	r := &Report{Kind: l.Kind, SchemaVersion: version}
	doc, ok, err := schemaFor(l.Kind, version)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.UnknownKind = true
		return r, nil
	}

	keys, fields, err := l.payloadKeys()
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
		return r, nil
	}
	shared := make(map[string]json.RawMessage, len(fields))
	for _, k := range keys {
		if _, known := doc.Properties[k]; known {
			shared[k] = fields[k]
			continue
		}
		r.UnknownFields = append(r.UnknownFields, k)
	}

	data, err := json.Marshal(shared)
	if err != nil {
		return nil, err
	}
	result := doc.compiled.ValidateJSON(data)
	if !result.IsValid() {
		for key, e := range result.Errors {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", key, e))
		}
		sort.Strings(r.Errors)
	}
	return r, nil
}

// Violation is one breaking difference between two schema versions.
type Violation struct {
	Kind   Kind   `json:"kind"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
	return fmt.Sprintf("%s.%s: %s", v.Kind, v.Field, v.Detail)
}

// CheckAdditive reports every change from version from to version to that
// is not purely additive: a removed kind or field, a changed field type, a
// narrowed enum or a newly required field.
func CheckAdditive(from, to int) ([]Violation, error) {
	all, err := schemas()
	if err != nil {
		return nil, err
	}
	old, ok := all[from]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %d", from)
	}
	cur, ok := all[to]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %d", to)
	}
	return diffSets(old, cur), nil
}

func diffSets(old, cur schemaSet) []Violation {
	var out []Violation
	for _, kind := range sortedKinds(old) {
		o := old[kind]
		c, ok := cur[kind]
		if !ok {
			out = append(out, Violation{Kind: kind, Detail: "record kind removed"})
			continue
		}
		for _, name := range sortedProps(o) {
			op := o.Properties[name]
			cp, ok := c.Properties[name]
			if !ok {
				out = append(out, Violation{Kind: kind, Field: name, Detail: "field removed"})
				continue
			}
			if fmt.Sprint(op.Type) != fmt.Sprint(cp.Type) {
				out = append(out, Violation{Kind: kind, Field: name,
					Detail: fmt.Sprintf("type changed from %v to %v", op.Type, cp.Type)})
			}
			if len(op.Enum) > 0 {
				if len(cp.Enum) == 0 {
					continue
				}
				for _, v := range op.Enum {
					if !containsValue(cp.Enum, v) {
						out = append(out, Violation{Kind: kind, Field: name,
							Detail: fmt.Sprintf("enum value %v removed", v)})
					}
				}
			}
		}
		for _, req := range c.Required {
			if !containsString(o.Required, req) {
				out = append(out, Violation{Kind: kind, Field: req, Detail: "field became required"})
			}
		}
	}
	return out
}

func sortedKinds(set schemaSet) []Kind {
	kinds := make([]Kind, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func sortedProps(doc *schemaDoc) []string {
	names := make([]string, 0, len(doc.Properties))
	for n := range doc.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, x := range list {
		if fmt.Sprint(x) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
