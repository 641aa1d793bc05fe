package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creditgate.yaml")

	t.Setenv("NARRATIVE_API_KEY", "secret")

	data := `
listen_addr: ":9090"
db:
  driver: sqlite
  dsn: "file:creditgate.db"
approval:
  timeout: 30s
  on_timeout: fail
narrative:
  enabled: true
  endpoint: "https://narrative.example.com/v1/narrate"
  api_key: "${NARRATIVE_API_KEY}"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Narrative.APIKey != "secret" {
		t.Fatalf("expected expanded api key")
	}
	if cfg.Approval.Timeout != 30*time.Second || cfg.Approval.OnTimeout != "fail" {
		t.Fatalf("unexpected approval config: %+v", cfg.Approval)
	}
	// Unset keys keep their defaults.
	if cfg.Ledger.MaxAttempts != 3 || cfg.Notify.Mode != "log" || !cfg.DemoSeed {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"CREDITGATE_LISTEN_ADDR": ":7070",
		"CREDITGATE_DB_DRIVER":   "postgres",
		"CREDITGATE_DB_DSN":      "postgres://localhost/creditgate",
		"CREDITGATE_DEV_TOKEN":   "dev",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.ListenAddr != ":7070" || cfg.DB.Driver != "postgres" || cfg.DB.DSN == "" || cfg.Auth.DevToken != "dev" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"db without dsn":        func(c *Config) { c.DB.Driver = "sqlite" },
		"unknown driver":        func(c *Config) { c.DB = DBConfig{Driver: "mysql", DSN: "x"} },
		"bad log format":        func(c *Config) { c.Logging.Format = "xml" },
		"negative timeout":      func(c *Config) { c.Approval.Timeout = -time.Second },
		"bad timeout policy":    func(c *Config) { c.Approval.OnTimeout = "ignore" },
		"unknown ledger":        func(c *Config) { c.Ledger.Mode = "sap" },
		"outbox without smtp":   func(c *Config) { c.Notify.Mode = "outbox" },
		"narrative no endpoint": func(c *Config) { c.Narrative.Enabled = true },
		"half a signing key":    func(c *Config) { c.SigningKey.KeyID = "k1" },
		"negative burst":        func(c *Config) { c.RateLimit.Burst = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestShippedExampleLoads(t *testing.T) {
	t.Setenv("CREDITGATE_DEV_TOKEN", "dev")
	cfg, err := Load("../../configs/creditgate.yaml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.Auth.DevToken != "dev" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}
