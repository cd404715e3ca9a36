package cache

import (
	"strings"
	"testing"
)

func TestKey_NormalizesQuery(t *testing.T) {
	a := Key("  What is   the Krebs cycle? ", 15)
	b := Key("what is the krebs cycle?", 15)
	if a != b {
		t.Errorf("keys differ for equivalent queries: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "ctx_") {
		t.Errorf("key %q missing ctx_ prefix", a)
	}
}

func TestKey_DepthSeparates(t *testing.T) {
	if Key("krebs cycle", 5) == Key("krebs cycle", 25) {
		t.Error("different depths produced the same key")
	}
}

func TestKey_DistinctQueries(t *testing.T) {
	if Key("krebs cycle", 15) == Key("urea cycle", 15) {
		t.Error("different queries produced the same key")
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"  A  b\tC\n":        "a b c",
		"already normal":     "already normal",
		"MiXeD   Case Query": "mixed case query",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
