package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/queuepro/queuepro/internal/dbconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the server's runtime settings. Values come from an optional
// YAML file, with DB_*/NATS_URL/PORT environment variables taking precedence.
type Config struct {
	Port    string `yaml:"port"`
	NATSURL string `yaml:"nats_url"`

	Database dbconfig.Config `yaml:"database"`

	// AvgServiceMinutes feeds the fixed per-head wait estimate exposed to
	// clients. A deliberate simplification over a measured rolling average.
	AvgServiceMinutes int `yaml:"avg_service_minutes"`

	// RequestTimeout bounds every boundary call against the store. A call
	// that is not acknowledged within it counts as failed, never as
	// "probably succeeded".
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// loadConfig reads the YAML file when present and applies env overrides.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		NATSURL:           "nats://localhost:4222",
		AvgServiceMinutes: 10,
		RequestTimeout:    5 * time.Second,
		Database: dbconfig.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "queuepro",
			SSLMode:  "disable",
			MaxConns: 10,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", cfg.Database.MaxConns)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
