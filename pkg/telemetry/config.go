package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the telemetry configuration for the skyrun engine.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string `yaml:"service_name" mapstructure:"service_name" validate:"required"`

	ServiceVersion string `yaml:"service_version" mapstructure:"service_version" validate:"required"`

	// Environment names the deployment (observatory, lab, dev).
	Environment string `yaml:"environment" mapstructure:"environment"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string `yaml:"resource_attributes" mapstructure:"resource_attributes"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" mapstructure:"output" validate:"required"`

	EnableCaller       bool `yaml:"enable_caller" mapstructure:"enable_caller"`
	EnableSampling     bool `yaml:"enable_sampling" mapstructure:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" mapstructure:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" mapstructure:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format" mapstructure:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms unixmicro"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	SamplingRate       float64           `yaml:"sampling_rate" mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" mapstructure:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" mapstructure:"export_timeout"`
	Headers            map[string]string `yaml:"headers" mapstructure:"headers"`
	Insecure           bool              `yaml:"insecure" mapstructure:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ListenAddress is used by StartMetricsServer when the API server does not
	// already expose the metrics path.
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address" validate:"required_if=Enabled true"`

	Path      string `yaml:"path" mapstructure:"path"`
	Namespace string `yaml:"namespace" mapstructure:"namespace" validate:"required"`

	// DefaultHistogramBuckets are latency buckets in seconds. Exposures run for minutes,
	// so the defaults reach an hour.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets" mapstructure:"histogram_buckets"`
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	BufferSize    int           `yaml:"buffer_size" mapstructure:"buffer_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size" mapstructure:"max_batch_size" validate:"gte=0"`
	EnableAsync   bool          `yaml:"enable_async" mapstructure:"enable_async"`
}

// DefaultConfig returns a default telemetry configuration. Tracing is off until an
// exporter is chosen.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "skyrun",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "skyrun",
			DefaultHistogramBuckets: []float64{
				0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
		ResourceAttributes: make(map[string]string),
	}
}

// ProductionConfig returns a configuration suited to an unattended observatory.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig returns a configuration with debug logs and every span exported to
// stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("invalid telemetry config: otlp exporter requires an endpoint")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("invalid telemetry config: event buffer size must be positive, got %d", c.Events.BufferSize)
	}
	return nil
}
