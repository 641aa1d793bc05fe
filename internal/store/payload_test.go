package store

import (
	"encoding/json"
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

func TestNormalizePayload(t *testing.T) {
	got, err := NormalizePayload(map[string]any{"limit": 65000000.0, "nested": map[string]int{"n": 1}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got["limit"] != json.Number("65000000") {
		t.Fatalf("expected json.Number, got %T %v", got["limit"], got["limit"])
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok || nested["n"] != json.Number("1") {
		t.Fatalf("unexpected nested payload %#v", got["nested"])
	}

	empty, err := NormalizePayload(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty payload, got %v %v", empty, err)
	}
}
