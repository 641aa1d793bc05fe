package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/creditgate/internal/audit"
)

func TestLoadPolicy(t *testing.T) {
	loaded, err := LoadPolicy("../../policies/credit.yaml")
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	if loaded.Policy.PolicyID == "" {
		t.Fatalf("policy id missing")
	}
	if loaded.Policy != DefaultPolicy() {
		t.Fatalf("shipped policy should match built-in defaults: %+v", loaded.Policy)
	}

	data, err := os.ReadFile("../../policies/credit.yaml")
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}

	expected := audit.Digest(data)
	if loaded.Hash != expected {
		t.Fatalf("policy hash mismatch: got %s want %s", loaded.Hash, expected)
	}
}

func TestLoadPolicyOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("signals:\n  dso_days: 45\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if loaded.Policy.Signals.DSODays != 45 {
		t.Fatalf("expected dso override, got %v", loaded.Policy.Signals.DSODays)
	}
	if loaded.Policy.Signals.OverduePct != 30 || loaded.Policy.LimitIncrease.Uplift != 1.3 {
		t.Fatalf("defaults should survive overlay: %+v", loaded.Policy)
	}
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"confidence": "unblock:\n  strong_confidence: 1.5\n",
		"uplift":     "limit_increase:\n  uplift: 0\n",
		"risk":       "unblock:\n  strong_risk_category: Z\n",
		"yaml":       "signals: [",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadPolicy(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadPolicy(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultIsStable(t *testing.T) {
	if Default().Hash != Default().Hash {
		t.Fatalf("default policy hash should be stable")
	}
	if Default().Hash == "" {
		t.Fatalf("default policy hash missing")
	}
}
