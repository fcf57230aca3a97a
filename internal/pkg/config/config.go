// Package config reads the pipeline environment toggles. Values come
// from the process environment, optionally seeded from a .env file.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	KeyUseCacheData = "USE_CACHE_DATA"
	KeyCheckNewer   = "CHECK_NEWER"
	KeyMaxDays      = "MAX_DAYS"
	KeyDriveAPIKey  = "DRIVE_API_KEY"
	KeyEnv          = "ENV"
)

type Config struct {
	// UseCacheData prefers previously stored outputs over refetching.
	UseCacheData bool
	// CheckNewer forces conditional GETs even for files already cached.
	CheckNewer bool
	// MaxDays caps historical traversal; 0 means unbounded.
	MaxDays int `validate:"gte=0"`
	// DriveAPIKey enables Google Drive folder listing when set.
	DriveAPIKey string
	// Env selects the logger profile ("dev" or "prod").
	Env string `validate:"omitempty,oneof=dev prod production"`
}

// Load reads .env (if present) and the environment. The MAX_DAYS
// default depends on cache mode: 1 when cached, 0 otherwise.
func Load() (*Config, error) {
	// Missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(KeyUseCacheData, false)
	v.SetDefault(KeyCheckNewer, false)
	v.SetDefault(KeyEnv, "dev")

	cfg := &Config{
		UseCacheData: v.GetBool(KeyUseCacheData),
		CheckNewer:   v.GetBool(KeyCheckNewer),
		DriveAPIKey:  v.GetString(KeyDriveAPIKey),
		Env:          v.GetString(KeyEnv),
	}

	if v.IsSet(KeyMaxDays) {
		cfg.MaxDays = v.GetInt(KeyMaxDays)
	} else if cfg.UseCacheData {
		cfg.MaxDays = 1
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
