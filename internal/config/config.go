package config

import (
	"strings"

	"godiffex/internal"
	"godiffex/internal/errors"

	"github.com/caarlos0/env/v11"
)

// Config represents the complete application configuration
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	Engine   EngineConfig
	Database DatabaseConfig
	Server   ServerConfig
}

// EngineConfig holds defaults for the statistical engine. An analysis file can
// override each of them.
type EngineConfig struct {
	Workers       int     `env:"DE_WORKERS" envDefault:"0"`
	MaxIterations int     `env:"DE_MAX_ITERATIONS" envDefault:"50"`
	Tolerance     float64 `env:"DE_TOLERANCE" envDefault:"1e-8"`
	Proportion    float64 `env:"DE_PROPORTION" envDefault:"0.01"`
	AdjustMethod  string  `env:"DE_ADJUST_METHOD" envDefault:"BH"`
	DesignOrder   string  `env:"DE_DESIGN_ORDER" envDefault:"lexicographic"`
}

// DatabaseConfig holds database connection settings. An empty URL disables
// the SQL results sink.
type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	URL    string `env:"DATABASE_URL"`
}

// Enabled reports whether a results database is configured
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.URL) != ""
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port          string `env:"PORT" envDefault:"8080"`
	MaxBodyMB     int    `env:"API_MAX_BODY_MB" envDefault:"64"`
	MaxConcurrent int    `env:"API_MAX_CONCURRENT" envDefault:"4"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to parse environment")
	}

	if err := validateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return cfg, nil
}

// Logger builds the application logger from LOG_LEVEL.
func (c *Config) Logger() *internal.Logger {
	level, err := internal.ParseLogLevel(c.LogLevel)
	if err != nil {
		level = internal.LogLevelInfo
	}
	return internal.NewLogger(level)
}

func validateConfig(cfg *Config) error {
	if _, err := internal.ParseLogLevel(cfg.LogLevel); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if cfg.Engine.Workers < 0 {
		return errors.ConfigInvalid("DE_WORKERS must be >= 0")
	}
	if cfg.Engine.MaxIterations < 0 {
		return errors.ConfigInvalid("DE_MAX_ITERATIONS must be >= 0")
	}
	if cfg.Engine.Tolerance <= 0 {
		return errors.ConfigInvalid("DE_TOLERANCE must be > 0")
	}
	if cfg.Engine.Proportion <= 0 || cfg.Engine.Proportion >= 1 {
		return errors.ConfigInvalid("DE_PROPORTION must lie in (0,1)")
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return errors.ConfigInvalid("DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	if cfg.Server.MaxConcurrent <= 0 {
		return errors.ConfigInvalid("API_MAX_CONCURRENT must be > 0")
	}
	return nil
}
