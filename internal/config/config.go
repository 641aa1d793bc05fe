package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	Logging    LoggingConfig    `yaml:"logging"`
	DB         DBConfig         `yaml:"db"`
	PolicyPath string           `yaml:"policy_path"`
	DemoSeed   bool             `yaml:"demo_seed"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Notify     NotifyConfig     `yaml:"notify"`
	Narrative  NarrativeConfig  `yaml:"narrative"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	SigningKey SigningKeyConfig `yaml:"signing_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ApprovalConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	OnTimeout string        `yaml:"on_timeout"`
}

type LedgerConfig struct {
	Mode        string        `yaml:"mode"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryBase   time.Duration `yaml:"retry_base"`
}

type NotifyConfig struct {
	Mode         string        `yaml:"mode"`
	From         string        `yaml:"from"`
	SMTP         SMTPConfig    `yaml:"smtp"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type NarrativeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	DevToken  string `yaml:"dev_token"`
	JWTSecret string `yaml:"jwt_secret"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type SigningKeyConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Default is the configuration used when no file is given: in-memory
// storage, demo data, a ten minute approval window and log notifications.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		DemoSeed:   true,
		Approval:   ApprovalConfig{Timeout: 10 * time.Minute, OnTimeout: "auto_approve"},
		Ledger:     LedgerConfig{Mode: "mock", MaxAttempts: 3, RetryBase: 200 * time.Millisecond},
		Notify:     NotifyConfig{Mode: "log", From: "credit-control@example.com", PollInterval: 2 * time.Second},
		Narrative:  NarrativeConfig{RequestsPerSecond: 1, Timeout: 5 * time.Second},
		RateLimit:  RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
	}
}

// Load reads path on top of Default, expanding ${VAR} references first.
func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv lets CREDITGATE_* variables override file values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.ListenAddr = firstNonEmpty(getenv("CREDITGATE_LISTEN_ADDR"), c.ListenAddr)
	c.DB.Driver = firstNonEmpty(getenv("CREDITGATE_DB_DRIVER"), c.DB.Driver)
	c.DB.DSN = firstNonEmpty(getenv("CREDITGATE_DB_DSN"), c.DB.DSN)
	c.PolicyPath = firstNonEmpty(getenv("CREDITGATE_POLICY_PATH"), c.PolicyPath)
	c.Auth.DevToken = firstNonEmpty(getenv("CREDITGATE_DEV_TOKEN"), c.Auth.DevToken)
	c.Auth.JWTSecret = firstNonEmpty(getenv("CREDITGATE_JWT_SECRET"), c.Auth.JWTSecret)
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.DB.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is set")
		}
	default:
		return fmt.Errorf("db.driver %q is not one of sqlite, postgres", c.DB.Driver)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Approval.Timeout < 0 {
		return fmt.Errorf("approval.timeout must not be negative")
	}
	switch c.Approval.OnTimeout {
	case "", "auto_approve", "fail":
	default:
		return fmt.Errorf("approval.on_timeout %q is not one of auto_approve, fail", c.Approval.OnTimeout)
	}

	if c.Ledger.Mode != "" && c.Ledger.Mode != "mock" {
		return fmt.Errorf("ledger.mode %q is not supported", c.Ledger.Mode)
	}
	if c.Ledger.MaxAttempts < 0 {
		return fmt.Errorf("ledger.max_attempts must not be negative")
	}

	switch c.Notify.Mode {
	case "", "log":
	case "outbox":
		if c.Notify.SMTP.Addr == "" {
			return fmt.Errorf("notify.smtp.addr is required when notify.mode=outbox")
		}
		if c.Notify.From == "" {
			return fmt.Errorf("notify.from is required when notify.mode=outbox")
		}
	default:
		return fmt.Errorf("notify.mode %q is not one of log, outbox", c.Notify.Mode)
	}

	if c.Narrative.Enabled && c.Narrative.Endpoint == "" {
		return fmt.Errorf("narrative.endpoint is required when narrative.enabled=true")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	if (c.SigningKey.KeyID == "") != (c.SigningKey.PrivateKeyPath == "") {
		return fmt.Errorf("signing_key.key_id and signing_key.private_key_path must be set together")
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
