package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables the health server

	Env string `yaml:"env"` // "dev" | "prod"

	Storage      StorageConfig      `yaml:"storage"`
	Policy       PolicyConfig       `yaml:"policy"`
	SecondFactor SecondFactorConfig `yaml:"second_factor"`
	Extractor    ExtractorConfig    `yaml:"extractor"`
	Integrity    IntegrityConfig    `yaml:"integrity"`
	Log          LogConfig          `yaml:"log"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // "sqlite" | "memory"
	DBPath  string `yaml:"db_path"`
	KeyPath string `yaml:"key_path"`
}

type PolicyConfig struct {
	MaxAttempts               int  `yaml:"max_attempts"`
	LockoutSeconds            int  `yaml:"lockout_seconds"`
	SecondFactorWindowSeconds int  `yaml:"second_factor_window_seconds"`
	TemplateDim               int  `yaml:"template_dim"`
	AuditAdminEvents          bool `yaml:"audit_admin_events"`
}

type SecondFactorConfig struct {
	Issuer string `yaml:"issuer"`
}

// ExtractorConfig points at the image embedding service.  An empty URL
// leaves image requests unsupported (503); template requests still work.
type ExtractorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (e ExtractorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type IntegrityConfig struct {
	// CheckIntervalSeconds is how often the audit chain is verified.  0
	// checks once at startup only.
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

func (p PolicyConfig) LockoutDuration() time.Duration {
	return time.Duration(p.LockoutSeconds) * time.Second
}

func (p PolicyConfig) SecondFactorWindow() time.Duration {
	return time.Duration(p.SecondFactorWindowSeconds) * time.Second
}

func (i IntegrityConfig) Interval() time.Duration {
	return time.Duration(i.CheckIntervalSeconds) * time.Second
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Env:      "dev",
		Storage: StorageConfig{
			Backend: "sqlite",
			DBPath:  "./data/argus.db",
			KeyPath: "./data/argus.key",
		},
		Policy: PolicyConfig{
			MaxAttempts:               3,
			LockoutSeconds:            300,
			SecondFactorWindowSeconds: 120,
			TemplateDim:               128,
			AuditAdminEvents:          true,
		},
		SecondFactor: SecondFactorConfig{Issuer: "Argus Access Control"},
		Extractor:    ExtractorConfig{TimeoutSeconds: 10},
		Integrity:    IntegrityConfig{CheckIntervalSeconds: 60},
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then ARGUS_* environment variables, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("ARGUS_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("ARGUS_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}

	c.Env = strings.ToLower(getenvDefault("ARGUS_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.Storage.Backend = strings.ToLower(getenvDefault("ARGUS_STORAGE", c.Storage.Backend))
	c.Storage.DBPath = getenvDefault("ARGUS_DB_PATH", c.Storage.DBPath)
	c.Storage.KeyPath = getenvDefault("ARGUS_KEY_PATH", c.Storage.KeyPath)

	c.Policy.MaxAttempts = getenvInt("ARGUS_MAX_ATTEMPTS", c.Policy.MaxAttempts)
	c.Policy.LockoutSeconds = getenvInt("ARGUS_LOCKOUT_SECONDS", c.Policy.LockoutSeconds)
	c.Policy.SecondFactorWindowSeconds = getenvInt("ARGUS_SECOND_FACTOR_WINDOW_SECONDS", c.Policy.SecondFactorWindowSeconds)
	c.Policy.TemplateDim = getenvInt("ARGUS_TEMPLATE_DIM", c.Policy.TemplateDim)
	c.Policy.AuditAdminEvents = getenvBool("ARGUS_AUDIT_ADMIN_EVENTS", c.Policy.AuditAdminEvents)

	c.SecondFactor.Issuer = getenvDefault("ARGUS_ISSUER", c.SecondFactor.Issuer)
	c.Extractor.URL = strings.TrimSpace(getenvDefault("ARGUS_EXTRACTOR_URL", c.Extractor.URL))
	c.Extractor.TimeoutSeconds = getenvInt("ARGUS_EXTRACTOR_TIMEOUT_SECONDS", c.Extractor.TimeoutSeconds)
	c.Integrity.CheckIntervalSeconds = getenvInt("ARGUS_INTEGRITY_INTERVAL_SECONDS", c.Integrity.CheckIntervalSeconds)

	c.Log.Level = strings.ToLower(getenvDefault("ARGUS_LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getenvDefault("ARGUS_LOG_FORMAT", c.Log.Format))
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.Storage.Backend {
	case "sqlite":
		if strings.TrimSpace(c.Storage.DBPath) == "" {
			errs = append(errs, errors.New("storage.db_path is required for the sqlite backend"))
		}
	case "memory":
		if c.Env == "prod" {
			errs = append(errs, errors.New("storage.backend memory is not allowed in prod"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of sqlite, memory", c.Storage.Backend))
	}
	if strings.TrimSpace(c.Storage.KeyPath) == "" {
		errs = append(errs, errors.New("storage.key_path is required"))
	}
	if c.Policy.MaxAttempts < 1 {
		errs = append(errs, errors.New("policy.max_attempts must be at least 1"))
	}
	if c.Policy.LockoutSeconds < 0 {
		errs = append(errs, errors.New("policy.lockout_seconds must not be negative"))
	}
	if c.Policy.SecondFactorWindowSeconds < 1 {
		errs = append(errs, errors.New("policy.second_factor_window_seconds must be at least 1"))
	}
	if c.Policy.TemplateDim < 1 {
		errs = append(errs, errors.New("policy.template_dim must be at least 1"))
	}
	if c.Extractor.URL != "" {
		if u, err := url.Parse(c.Extractor.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("extractor.url %q is not an http(s) URL", c.Extractor.URL))
		}
	}
	if c.Extractor.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("extractor.timeout_seconds must not be negative"))
	}
	if c.Integrity.CheckIntervalSeconds < 0 {
		errs = append(errs, errors.New("integrity.check_interval_seconds must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
