// Package config loads runtime configuration from the environment. A
// .env file is honored when present so local development matches the
// deployed layout.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL                 string
	JWTSecret                   string
	DefaultCommissionPercentage decimal.Decimal
	SubscriptionDurationDays    int
	ExpiringSoonHorizonDays     int
}

// Load reads the environment, falling back to the documented defaults.
func Load() (Config, error) {
	// Missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:                 os.Getenv("DATABASE_URL"),
		JWTSecret:                   os.Getenv("JWT_SECRET"),
		DefaultCommissionPercentage: decimal.NewFromInt(5),
		SubscriptionDurationDays:    365,
		ExpiringSoonHorizonDays:     30,
	}

	if v := os.Getenv("DEFAULT_COMMISSION_PERCENTAGE"); v != "" {
		pct, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse DEFAULT_COMMISSION_PERCENTAGE: %w", err)
		}
		cfg.DefaultCommissionPercentage = pct
	}
	var err error
	if cfg.SubscriptionDurationDays, err = intEnv("SUBSCRIPTION_DURATION_DAYS", cfg.SubscriptionDurationDays); err != nil {
		return Config{}, err
	}
	if cfg.ExpiringSoonHorizonDays, err = intEnv("EXPIRING_SOON_HORIZON_DAYS", cfg.ExpiringSoonHorizonDays); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", key, n)
	}
	return n, nil
}
