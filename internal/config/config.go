// Package config loads runtime configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBSource          string
	Port              string
	Env               string
	LogLevel          string
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	MigrateOnStart    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_INTERVAL", "1h")
	v.SetDefault("MIGRATE_ON_START", false)

	dbSource := v.GetString("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	interval := v.GetDuration("SCHEDULER_INTERVAL")
	if interval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_INTERVAL must be a positive duration")
	}

	return &Config{
		DBSource:          dbSource,
		Port:              v.GetString("SERVER_PORT"),
		Env:               v.GetString("ENVIRONMENT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		SchedulerEnabled:  v.GetBool("SCHEDULER_ENABLED"),
		SchedulerInterval: interval,
		MigrateOnStart:    v.GetBool("MIGRATE_ON_START"),
	}, nil
}
