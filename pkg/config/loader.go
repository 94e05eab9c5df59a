package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKYRUN_"

// Load reads the configuration files in order on top of DefaultConfig, applies
// SKYRUN_* environment overrides and validates the result. Later files override
// earlier ones field by field; lists are replaced.
func Load(paths ...string) (*Config, error) {
	return load(os.LookupEnv, paths...)
}

func load(lookup func(string) (string, bool), paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	s, err := loadSchema()
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		data, err := readFile(s, path)
		if err != nil {
			return nil, err
		}
		if err := decodeInto(cfg, data); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		cfg.Sources = append(cfg.Sources, path)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(s *schema, path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var (
		data     map[string]any
		problems []ValidationError
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue", ".json":
		// JSON is valid CUE, which keeps integers and floats apart.
		data, problems, err = s.decodeCUE(content, path)
		if err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if data == nil {
			data = map[string]any{}
		}
		problems, err = s.check(data)
		if err != nil {
			return nil, err
		}
		for i := range problems {
			problems[i].File = path
			problems[i].Line, problems[i].Column = 0, 0
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if len(problems) > 0 {
		return nil, &Error{Errors: problems}
	}
	return data, nil
}

func decodeInto(cfg *Config, data map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     cfg,
		ZeroFields: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// envOverride applies one environment variable.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Telemetry.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Telemetry.Logging.Format = v; return nil }},
	{"ENVIRONMENT", func(c *Config, v string) error { c.Telemetry.Environment = v; return nil }},
	{"TRACING_ENDPOINT", func(c *Config, v string) error {
		c.Telemetry.Tracing.Enabled = true
		c.Telemetry.Tracing.Exporter = "otlp"
		c.Telemetry.Tracing.Endpoint = v
		return nil
	}},
	{"METRICS_ENABLED", func(c *Config, v string) error { return setBool(&c.Telemetry.Metrics.Enabled, v) }},
	{"STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error {
		c.Redis.Enabled = true
		c.Redis.Addr = v
		return nil
	}},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"REDIS_DB", func(c *Config, v string) error { return setInt(&c.Redis.DB, v) }},
	{"API_LISTEN", func(c *Config, v string) error { c.API.Listen = v; return nil }},
	{"RETRY_DELAY", func(c *Config, v string) error { return setDuration(&c.Runner.RetryDelay, v) }},
	{"MAX_RETRY_DELAY", func(c *Config, v string) error { return setDuration(&c.Runner.MaxRetryDelay, v) }},
	{"TEMPLATES_DIR", func(c *Config, v string) error { c.Templates.Dir = v; return nil }},
	{"POLICY_PATHS", func(c *Config, v string) error {
		c.Policies.Paths = splitList(v)
		return nil
	}},
	{"FILTERS", func(c *Config, v string) error {
		c.Equipment.Filters = splitList(v)
		return nil
	}},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		value, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, value); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
