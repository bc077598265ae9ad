package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for the bootforge engine.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment specifies the deployment environment (dev, workstation).
	Environment string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig

	// Events contains run event publishing configuration.
	Events EventsConfig
}

// LoggingConfig configures the dual-sink workflow logger.
type LoggingConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string

	// ConsoleOutput selects the console sink (stdout, stderr).
	ConsoleOutput string

	// FilePath is the persistent log file appended to on every emit.
	// Empty disables the file sink. A file that cannot be opened or
	// written degrades the logger to console-only without error.
	FilePath string

	// NoColor disables ANSI colors on the console sink.
	NoColor bool

	// TimeFormat specifies the timestamp format (unix, rfc3339).
	TimeFormat string
}

// TracingConfig configures tracing of workflow runs.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// TextfilePath is where a snapshot of all metrics is written after a
	// real (non-dry-run) workflow run, in the Prometheus text exposition
	// format consumed by node_exporter's textfile collector. Empty
	// disables the snapshot.
	TextfilePath string

	// ListenAddress optionally serves /metrics over HTTP for long runs.
	// Empty disables the listener.
	ListenAddress string

	// Path is the HTTP path for metrics (default: /metrics).
	Path string

	// Namespace is the metrics namespace prefix.
	Namespace string

	// DefaultHistogramBuckets are the default duration buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the run event bus.
type EventsConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "bootforge",
		ServiceVersion: "dev",
		Environment:    "workstation",
		Logging: LoggingConfig{
			Level:         "info",
			ConsoleOutput: "stderr",
			TimeFormat:    "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "bootforge",
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0, 300.0, 600.0,
			},
		},
		Events: EventsConfig{
			Enabled: true,
		},
	}
}

// DevelopmentConfig returns a configuration suited to working on the
// engine itself: debug logging and all traces exported to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "dev"
	cfg.Logging.Level = "debug"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.ConsoleOutput != "" && c.Logging.ConsoleOutput != "stdout" && c.Logging.ConsoleOutput != "stderr" {
		return fmt.Errorf("invalid console output: %s (must be 'stdout' or 'stderr')", c.Logging.ConsoleOutput)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp endpoint is required when the otlp exporter is enabled")
	}

	return nil
}
