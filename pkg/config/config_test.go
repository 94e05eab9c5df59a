package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q, want :memory:", cfg.Store.Path)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "skyrun.yaml", `
telemetry:
  logging:
    level: debug
store:
  path: /var/lib/skyrun/history.db
redis:
  enabled: true
  addr: redis:6379
  ttl: 2h
runner:
  retry_delay: 5s
  max_retry_delay: 1m
equipment:
  filters: [L, Ha]
  timings:
    slew: 3s
`)

	cfg, err := load(noEnv, path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, default lost", cfg.Telemetry.Logging.Format)
	}
	if cfg.Store.Path != "/var/lib/skyrun/history.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" || cfg.Redis.TTL != 2*time.Hour {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Redis.Prefix != "skyrun:" {
		t.Errorf("Redis.Prefix = %q, default lost", cfg.Redis.Prefix)
	}
	if cfg.Runner.RetryDelay != 5*time.Second || cfg.Runner.MaxRetryDelay != time.Minute {
		t.Errorf("Runner = %+v", cfg.Runner)
	}
	if strings.Join(cfg.Equipment.Filters, ",") != "L,Ha" {
		t.Errorf("Filters = %v, want the list replaced", cfg.Equipment.Filters)
	}
	if cfg.Equipment.Timings.Slew != 3*time.Second {
		t.Errorf("Timings.Slew = %v", cfg.Equipment.Timings.Slew)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0] != path {
		t.Errorf("Sources = %v", cfg.Sources)
	}
}

func TestLoadCUEAndJSONLayers(t *testing.T) {
	base := writeFile(t, "base.cue", `
api: listen: ":9000"
templates: {
	dir:   "/srv/templates"
	watch: true
}
`)
	override := writeFile(t, "override.json", `{"api": {"listen": ":9100"}, "redis": {"db": 2}}`)

	cfg, err := load(noEnv, base, override)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.API.Listen != ":9100" {
		t.Errorf("API.Listen = %q, want later file to win", cfg.API.Listen)
	}
	if cfg.Templates.Dir != "/srv/templates" || !cfg.Templates.Watch {
		t.Errorf("Templates = %+v", cfg.Templates)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Redis.DB = %d", cfg.Redis.DB)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "unknown section",
			file:    "bad.yaml",
			content: "telescope:\n  port: 11111\n",
			want:    "telescope",
		},
		{
			name:    "bad log level",
			file:    "bad.yaml",
			content: "telemetry:\n  logging:\n    level: loud\n",
			want:    "level",
		},
		{
			name:    "negative redis db",
			file:    "bad.cue",
			content: "redis: db: -1\n",
			want:    "db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := load(noEnv, path)
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("load() error = %v, want *Error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if cfgErr.Errors[0].File == "" {
				t.Error("validation error has no file")
			}
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "skyrun.toml", "x = 1")
	if _, err := load(noEnv, path); err == nil {
		t.Fatal("expected error for .toml")
	}
	if _, err := load(noEnv, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SKYRUN_LOG_LEVEL":    "warn",
		"SKYRUN_REDIS_ADDR":   "cache:6379",
		"SKYRUN_RETRY_DELAY":  "250ms",
		"SKYRUN_POLICY_PATHS": "/etc/skyrun/policies, ./local.rego",
		"SKYRUN_API_LISTEN":   "127.0.0.1:8081",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := load(lookup)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Runner.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.Runner.RetryDelay)
	}
	if strings.Join(cfg.Policies.Paths, "|") != "/etc/skyrun/policies|./local.rego" {
		t.Errorf("Policies.Paths = %v", cfg.Policies.Paths)
	}
	if cfg.API.Listen != "127.0.0.1:8081" {
		t.Errorf("API.Listen = %q", cfg.API.Listen)
	}

	env = map[string]string{"SKYRUN_REDIS_DB": "two"}
	if _, err := load(lookup); err == nil || !strings.Contains(err.Error(), "SKYRUN_REDIS_DB") {
		t.Errorf("load() error = %v, want invalid SKYRUN_REDIS_DB", err)
	}
}

func TestValidateCrossField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"max below initial delay", func(c *Config) { c.Runner.MaxRetryDelay = time.Millisecond }, "runner.max_retry_delay"},
		{"no filters", func(c *Config) { c.Equipment.Filters = nil }, "equipment.filters"},
		{"empty listen", func(c *Config) { c.API.Listen = "" }, "api.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *Error", err)
			}
			var found bool
			for _, ve := range cfgErr.Errors {
				if ve.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not include %s", cfgErr.Errors, tt.path)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Listen = ":7000"
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	path := writeFile(t, "dump.yaml", string(data))
	loaded, err := load(noEnv, path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if loaded.API.Listen != ":7000" || loaded.Redis.TTL != cfg.Redis.TTL {
		t.Errorf("round trip lost values: %+v", loaded.API)
	}
}
