// Package config assembles runtime configuration from a YAML file, .env
// files, and environment variables, in increasing precedence.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingDatabaseURL is returned when no Postgres DSN could be found.
var ErrMissingDatabaseURL = errors.New("config: database_url is required")

// Config holds everything the process needs at startup.
type Config struct {
	DatabaseURL      string        `yaml:"database_url"`
	RedisURL         string        `yaml:"redis_url"` // empty disables Redis
	ServerPort       string        `yaml:"server_port"`
	LogLevel         string        `yaml:"log_level"`
	LogPretty        bool          `yaml:"log_pretty"`
	AuthURL          string        `yaml:"auth_url"` // discovery endpoint override
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	ScheduleInterval time.Duration `yaml:"schedule_interval"`
	MigrationsDir    string        `yaml:"migrations_dir"`
}

// Load builds config from the environment. When DATABASE_URL is unset it
// first tries .env.local and .env in the working directory.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		// Missing files are fine; only the first hit of each key wins.
		_ = godotenv.Load(".env.local", ".env")
	}

	c := defaults()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	applyEnv(c)

	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:       "8080",
		LogLevel:         "info",
		FetchTimeout:     5 * time.Minute,
		ScheduleInterval: time.Minute,
		MigrationsDir:    "migrations",
	}
}

// applyEnv overlays environment variables on c. Malformed optional values
// are ignored in favour of the existing setting.
func applyEnv(c *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.AuthURL, "IPTV_AUTH_URL")
	setString(&c.MigrationsDir, "MIGRATIONS_DIR")

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogPretty = b
		}
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FetchTimeout = d
		}
	}
	if v := os.Getenv("SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ScheduleInterval = d
		}
	}
}
