package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/emiliopalmerini/mvariant/internal/adapters/otel"
)

// Prefix is prepended to every environment variable name.
const Prefix = "MVARIANT"

// Database holds libsql configuration. Local "file:" URLs need no token.
type Database struct {
	URL       string `envconfig:"URL" default:"file:mvariant.db"`
	AuthToken string `envconfig:"AUTH_TOKEN"`
}

type Log struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Redis holds the promotion lock configuration. An empty Addr keeps locking
// in-process.
type Redis struct {
	Addr     string        `envconfig:"ADDR"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"10s"`
}

type Config struct {
	Database        Database    `envconfig:"DATABASE"`
	Log             Log         `envconfig:"LOG"`
	OTEL            otel.Config `envconfig:"OTEL"`
	Redis           Redis       `envconfig:"REDIS"`
	DefaultPageSize int         `envconfig:"DEFAULT_PAGE_SIZE" default:"50"`
}

// Load reads the configuration from MVARIANT_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
