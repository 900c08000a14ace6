// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite, postgres, memory
	DBPath      string `env:"DB_PATH" envDefault:"leave.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	DevTokens bool   `env:"DEV_TOKENS" envDefault:"false"`

	Timezone   string `env:"TIMEZONE" envDefault:"Europe/Paris"`
	PolicyFile string `env:"POLICY_FILE"`

	AuditEnabled  bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	AuditInterval time.Duration `env:"AUDIT_INTERVAL" envDefault:"1h"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the tags cannot express.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if c.AuditEnabled && c.AuditInterval <= 0 {
		return fmt.Errorf("AUDIT_INTERVAL must be positive")
	}
	return nil
}

// Location returns the configured time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
