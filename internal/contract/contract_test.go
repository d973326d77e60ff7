package contract

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatParseRoundTrip(t *testing.T) {
	payload := Status{Status: StatusBlocked, ExitCode: 10, Reason: "disabled", Detail: "a = b \"quoted\" <tag>"}
	line, err := Format(KindStatus, 2, []Field{
		{Key: "status", Value: "blocked"},
		{Key: "reason", Value: "disabled"},
		{Key: "detail", Value: `a = b "quoted"`},
		{Key: "empty", Value: ""},
	}, payload)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.HasPrefix(line, "BDK_STATUS status=blocked reason=disabled ") {
		t.Errorf("line = %s", line)
	}
	if strings.Contains(line, "\n") {
		t.Error("line must be a single line")
	}

	l, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l.Kind != KindStatus || l.SchemaVersion != 2 {
		t.Errorf("Parse() = kind %s version %d", l.Kind, l.SchemaVersion)
	}
	if v, _ := l.Get("detail"); v != `a = b "quoted"` {
		t.Errorf("detail = %q", v)
	}
	if v, ok := l.Get("empty"); !ok || v != "" {
		t.Errorf("empty = %q, %v", v, ok)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(l.Payload, &generic); err != nil {
		t.Fatalf("payload is not plain JSON: %v", err)
	}
	if generic["schema_version"] != float64(2) || generic["detail"] != payload.Detail {
		t.Errorf("payload = %v", generic)
	}
	var back Status
	if err := l.Decode(&back); err != nil || back != payload {
		t.Errorf("Decode() = %+v, %v", back, err)
	}
}

func TestFormatRejectsReservedKeys(t *testing.T) {
	for _, key := range []string{"json", "schema_version", "Bad Key", ""} {
		if _, err := Format(KindCaps, 1, []Field{{Key: key, Value: "x"}}, Caps{}); err == nil {
			t.Errorf("Format() accepted key %q", key)
		}
	}
	if _, err := Format(Kind("nope"), 1, nil, Caps{}); err == nil {
		t.Error("Format() accepted unknown kind")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"NOT_A_TOKEN x=1 schema_version=1 json={}",
		"BDK_CAPS run_id=1 json={}",
		"BDK_CAPS schema_version=1",
		"BDK_CAPS schema_version=x json={}",
		"BDK_CAPS schema_version=1 json={broken",
		`BDK_CAPS detail="unterminated schema_version=1 json={}`,
	}
	for _, line := range tests {
		if _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q) succeeded", line)
		}
	}
}

func TestEmitterKeyFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	line, err := e.Emit(KindReuse, Reuse{Reuse: true, Reason: "reused", RunID: "run-2", SourceRunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	want := "BDK_REUSE reuse=true reason=reused source_run_id=run-1 run_id=run-2 schema_version=2 json="
	if !strings.HasPrefix(line, want) {
		t.Errorf("line = %s", line)
	}
	if buf.String() != line+"\n" {
		t.Errorf("written = %q", buf.String())
	}
}

func emitLine(t *testing.T, kind Kind, version int, payload interface{}) string {
	t.Helper()
	line, err := Format(kind, version, nil, payload)
	if err != nil {
		t.Fatal(err)
	}
	return line
}

func TestValidateCurrentPayloads(t *testing.T) {
	ratio := 0.5
	payloads := map[Kind]interface{}{
		KindCaps:     Caps{ProjectID: "p", RunID: "r", PathToCapabilities: "/c", CacheHitRatio: &ratio, ConfidenceTier: "high"},
		KindStatus:   Status{Status: StatusOK, Reason: "success"},
		KindGovBlock: GovBlock{Capability: "scan", Decision: "deny", Reason: "disabled", ExitCode: 10},
		KindMismatch: MismatchRecord{MismatchReason: "cache_corrupt", Detail: "tampered"},
		KindReuse:    Reuse{Reuse: false, Reason: "no_history"},
		KindIndex:    Index{Backend: "sqlite", Published: true},
		KindHints:    Hints{Direction: "export", Path: "/h.json"},
	}
	for kind, payload := range payloads {
		r, err := Validate(emitLine(t, kind, CurrentVersion, payload), CurrentVersion)
		if err != nil {
			t.Fatalf("%s: Validate() error = %v", kind, err)
		}
		if !r.Valid {
			t.Errorf("%s: Validate() = %+v", kind, r)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	line := emitLine(t, KindMismatch, 2, MismatchRecord{MismatchReason: "gremlins", Detail: "x"})
	r, err := Validate(line, 2)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid || len(r.UnknownFields) != 0 {
		t.Errorf("Validate() = %+v, want enum failure", r)
	}
}

func TestAdditiveGuard(t *testing.T) {
	v1 := emitLine(t, KindMismatch, 1, map[string]interface{}{"mismatch_reason": "cache_corrupt", "detail": "x"})
	if r, err := Validate(v1, 1); err != nil || !r.Valid {
		t.Fatalf("v1 document under v1 = %+v, %v", r, err)
	}
	if r, err := Validate(v1, 2); err != nil || !r.Valid {
		t.Errorf("v1 document under v2 = %+v, %v", r, err)
	}
	if r, err := CheckCompat(v1, 1); err != nil || !r.Valid {
		t.Errorf("CheckCompat(v1, 1) = %+v, %v", r, err)
	}

	v2 := emitLine(t, KindMismatch, 2, MismatchRecord{MismatchReason: "cache_corrupt", Detail: "x", Path: "/cache.json"})
	r, err := Validate(v2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.Valid {
		t.Fatal("v2-only field must fail v1 validation")
	}
	if len(r.UnknownFields) != 1 || r.UnknownFields[0] != "path" || len(r.Errors) != 1 {
		t.Errorf("v1 validation must fail only on the added field: %+v", r)
	}

	compat, err := CheckCompat(v2, 1)
	if err != nil || !compat.Valid || len(compat.UnknownFields) != 1 {
		t.Errorf("CheckCompat(v2, 1) = %+v, %v", compat, err)
	}

	broken := emitLine(t, KindMismatch, 2, MismatchRecord{MismatchReason: "nope", Detail: "x", Path: "/p"})
	if r, _ := CheckCompat(broken, 1); r.Valid {
		t.Error("CheckCompat must still validate shared fields")
	}
}

func TestNewKindsAreAdditions(t *testing.T) {
	line := emitLine(t, KindReuse, 2, Reuse{Reason: "too_old"})
	r, err := CheckCompat(line, 1)
	if err != nil || !r.Valid || !r.UnknownKind {
		t.Errorf("CheckCompat(reuse, 1) = %+v, %v", r, err)
	}
	if r, _ := Validate(line, 1); r.Valid {
		t.Error("reuse kind does not exist in v1")
	}
}

func TestCheckAdditive(t *testing.T) {
	violations, err := CheckAdditive(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("v1 -> v2 is not additive: %v", violations)
	}

	backwards, err := CheckAdditive(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(backwards) == 0 {
		t.Error("v2 -> v1 removes kinds and fields")
	}
	if _, err := CheckAdditive(1, 9); err == nil {
		t.Error("unknown version should fail")
	}
}

func TestDiffSetsDetectsBreakingChanges(t *testing.T) {
	old := schemaSet{"k": &schemaDoc{
		Properties: map[string]property{
			"a": {Type: "string", Enum: []interface{}{"x", "y"}},
			"b": {Type: "integer"},
			"c": {Type: "string"},
		},
		Required: []string{"a"},
	}}
	cur := schemaSet{"k": &schemaDoc{
		Properties: map[string]property{
			"a": {Type: "string", Enum: []interface{}{"x"}},
			"b": {Type: "string"},
		},
		Required: []string{"a", "b"},
	}}
	got := diffSets(old, cur)
	want := []string{
		"k.a: enum value y removed",
		"k.b: type changed from integer to string",
		"k.c: field removed",
		"k.b: field became required",
	}
	if len(got) != len(want) {
		t.Fatalf("diffSets() = %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("violation %d = %s, want %s", i, got[i], want[i])
		}
	}
}
