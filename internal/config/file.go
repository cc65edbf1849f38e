package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL      string `yaml:"database_url"`
	RedisURL         string `yaml:"redis_url"`
	ServerPort       string `yaml:"server_port"`
	LogLevel         string `yaml:"log_level"`
	LogPretty        bool   `yaml:"log_pretty"`
	AuthURL          string `yaml:"auth_url"`
	FetchTimeout     string `yaml:"fetch_timeout"`
	ScheduleInterval string `yaml:"schedule_interval"`
	MigrationsDir    string `yaml:"migrations_dir"`
}

// LoadFromFile loads config from a YAML file, then overlays environment
// variables. database_url is required after both passes.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := defaults()
	c.DatabaseURL = f.DatabaseURL
	if f.RedisURL != "" {
		c.RedisURL = f.RedisURL
	}
	if f.ServerPort != "" {
		c.ServerPort = f.ServerPort
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	c.LogPretty = f.LogPretty
	if f.AuthURL != "" {
		c.AuthURL = f.AuthURL
	}
	if f.MigrationsDir != "" {
		c.MigrationsDir = f.MigrationsDir
	}
	if f.FetchTimeout != "" {
		if d, err := time.ParseDuration(f.FetchTimeout); err == nil {
			c.FetchTimeout = d
		}
	}
	if f.ScheduleInterval != "" {
		if d, err := time.ParseDuration(f.ScheduleInterval); err == nil {
			c.ScheduleInterval = d
		}
	}

	applyEnv(c)
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}
