package jcs

import "testing"

func TestCanonicalizeJSON(t *testing.T) {
	in := []byte(`{ "b":2, "a":1 }`)
	want := `{"a":1,"b":2}`
	out, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("canonicalize error: %v", err)
	}
	if string(out) != want {
		t.Fatalf("unexpected canonical form: %s", string(out))
	}
}

func TestDigestJCSStable(t *testing.T) {
	da, err := DigestJCS([]byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	db, err := DigestJCS([]byte(`{ "b":2, "a":1 }`))
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if da != db {
		t.Fatalf("expected same digest for equivalent JSON")
	}
	if len(da) != 64 {
		t.Fatalf("digest length = %d, want 64", len(da))
	}
}

func TestDigestValue(t *testing.T) {
	type pair struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	fromStruct, err := Digest(pair{A: 1, B: 2})
	if err != nil {
		t.Fatalf("digest struct: %v", err)
	}
	fromMap, err := Digest(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("digest map: %v", err)
	}
	if fromStruct != fromMap {
		t.Errorf("struct digest %s != map digest %s", fromStruct, fromMap)
	}

	other, err := Digest(map[string]int{"a": 1, "b": 3})
	if err != nil {
		t.Fatalf("digest other: %v", err)
	}
	if other == fromMap {
		t.Error("different values share a digest")
	}
}

func TestDigestUnsupportedValue(t *testing.T) {
	if _, err := Digest(make(chan int)); err == nil {
		t.Fatal("expected marshal error for channel value")
	}
}

func TestCanonicalizeJSONInvalid(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
