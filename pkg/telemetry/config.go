package telemetry

// Config is the ambient observability configuration shared by every aurora
// component: structured logging plus Prometheus metrics registration. There
// is no tracing or event-bus pillar here — a single-process CLI tool has no
// distributed call graph to trace.
type Config struct {
	Logging LoggingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Namespace is the metrics namespace prefix.
	Namespace string
}

// DefaultConfig returns the configuration cmd/aurora uses unless overridden
// by --verbose/--json flags.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stderr",
			EnableCaller: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "aurora",
		},
	}
}
