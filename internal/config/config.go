// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the identity service needs at startup. The
// three signing secrets have no defaults on purpose.
type Config struct {
	PGDSN string `env:"ACESSO_PG_DSN"`

	AccessSecret   string `env:"ACESSO_ACCESS_SECRET"`
	RefreshSecret  string `env:"ACESSO_REFRESH_SECRET"`
	RecoverySecret string `env:"ACESSO_RECOVERY_SECRET"`

	AccessTTL   time.Duration `env:"ACESSO_ACCESS_TTL" envDefault:"10m"`
	RefreshTTL  time.Duration `env:"ACESSO_REFRESH_TTL" envDefault:"168h"`
	RecoveryTTL time.Duration `env:"ACESSO_RECOVERY_TTL" envDefault:"10m"`

	PersonRegistryURL  string `env:"ACESSO_PERSON_REGISTRY_URL"`
	CompanyRegistryURL string `env:"ACESSO_COMPANY_REGISTRY_URL"`

	LoginRatePerMinute int `env:"ACESSO_LOGIN_RATE_PER_MINUTE" envDefault:"0"`
	LoginRateBurst     int `env:"ACESSO_LOGIN_RATE_BURST" envDefault:"0"`

	MetricsAddr string `env:"ACESSO_METRICS_ADDR"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Load cannot express in tags.
func (c Config) Validate() error {
	if c.AccessSecret == "" || c.RefreshSecret == "" || c.RecoverySecret == "" {
		return errors.New("config: ACESSO_ACCESS_SECRET, ACESSO_REFRESH_SECRET and ACESSO_RECOVERY_SECRET are required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	return nil
}
