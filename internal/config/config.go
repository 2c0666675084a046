package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL is optional; without it rotation runs without the distributed
	// lock.
	RedisURL string `env:"REDIS_URL"`

	WhoopClientID     string `env:"WHOOP_CLIENT_ID"`
	WhoopClientSecret string `env:"WHOOP_CLIENT_SECRET"`

	// TokenMasterKey is deliberately not validated here. The keychain checks
	// it on first use, so deployments without encryption (pre-migration) can
	// still boot.
	TokenMasterKey string `env:"TOKEN_MASTER_KEY"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" default:"10s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" default:"1h"`
	SweepWindow     time.Duration `env:"SWEEP_WINDOW" default:"48h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":        cfg.DatabaseURL,
		"WHOOP_CLIENT_ID":     cfg.WhoopClientID,
		"WHOOP_CLIENT_SECRET": cfg.WhoopClientSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	return nil
}
