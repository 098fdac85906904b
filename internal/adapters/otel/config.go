package otel

// Config holds OTEL exporter configuration, read from MVARIANT_OTEL_*.
type Config struct {
	Endpoint string `envconfig:"ENDPOINT"`
	Enabled  bool   `envconfig:"ENABLED"`
	Insecure bool   `envconfig:"INSECURE"`
}
