package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/skyrun/pkg/equipment/sim"
	"github.com/openfroyo/skyrun/pkg/stores"
	"github.com/openfroyo/skyrun/pkg/telemetry"
)

// Config is the complete skyrun configuration.
type Config struct {
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Store     stores.Config    `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig      `yaml:"redis" mapstructure:"redis"`
	API       APIConfig        `yaml:"api" mapstructure:"api"`
	Runner    RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Templates TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Policies  PoliciesConfig   `yaml:"policies" mapstructure:"policies"`
	Equipment EquipmentConfig  `yaml:"equipment" mapstructure:"equipment"`

	// Sources lists the files the configuration was loaded from.
	Sources []string `yaml:"-" mapstructure:"-"`
}

// RedisConfig configures the live status mirror.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr     string        `yaml:"addr" mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Listen          string        `yaml:"listen" mapstructure:"listen" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// RunnerConfig configures instruction retries.
type RunnerConfig struct {
	// RetryDelay is the first wait between attempts; zero retries immediately.
	RetryDelay    time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" mapstructure:"max_retry_delay" validate:"gte=0"`
}

// TemplatesConfig locates the template library.
type TemplatesConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// PoliciesConfig lists rego policy files and directories loaded on top of the
// built-in policies.
type PoliciesConfig struct {
	Paths []string `yaml:"paths" mapstructure:"paths" validate:"dive,required"`
	Watch bool     `yaml:"watch" mapstructure:"watch"`
}

// EquipmentConfig configures the simulated observatory.
type EquipmentConfig struct {
	Filters []string    `yaml:"filters" mapstructure:"filters" validate:"min=1,dive,required"`
	Timings sim.Timings `yaml:"timings" mapstructure:"timings"`
}

// ValidationError represents a configuration problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted path to the offending field (e.g., "redis.ttl").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Error is returned when a configuration is readable but invalid.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// DefaultConfig returns a runnable configuration: in-memory history, simulated
// equipment, no redis.
func DefaultConfig() *Config {
	return &Config{
		Telemetry: *telemetry.DefaultConfig(),
		Store: stores.Config{
			Path: ":memory:",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "skyrun:",
			TTL:    24 * time.Hour,
		},
		API: APIConfig{
			Listen:          ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Runner: RunnerConfig{
			RetryDelay:    time.Second,
			MaxRetryDelay: 30 * time.Second,
		},
		Templates: TemplatesConfig{
			Dir: "templates",
		},
		Equipment: EquipmentConfig{
			Filters: []string{"L", "R", "G", "B", "Ha"},
			Timings: sim.InstantTimings(),
		},
	}
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	var problems []ValidationError

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on %q", fe.Tag()),
			})
		}
	}

	if c.Runner.MaxRetryDelay > 0 && c.Runner.MaxRetryDelay < c.Runner.RetryDelay {
		problems = append(problems, ValidationError{
			Path:    "runner.max_retry_delay",
			Message: "must not be shorter than retry_delay",
		})
	}
	if len(problems) == 0 {
		if err := c.Telemetry.Validate(); err != nil {
			problems = append(problems, ValidationError{Path: "telemetry", Message: err.Error()})
		}
	}

	if len(problems) > 0 {
		return &Error{Errors: problems}
	}
	return nil
}

// fieldPath turns "Config.Redis.Addr" into "redis.addr".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, ".")
}
