package observability

// Config captures the opt-in observability surfaces of the mirror.
type Config struct {
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}
