// Package config loads the server configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the logger output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the TCP address for the relay protocol.
	ListenAddr string `yaml:"listen_addr"`
	// Store identifies the persistence backend: a postgres connection
	// string, a SQLite file, or a command-log file path.
	Store string `yaml:"store"`
	// StatusAddr enables the read-only HTTP status listener when non-empty.
	StatusAddr string `yaml:"status_addr"`

	MaxRequestBytes   int `yaml:"max_request_bytes"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
	RateLimit         int `yaml:"rate_limit"`

	Log LogConfig `yaml:"log"`
}

// RateWindow returns the rate-limit interval as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:        ":7788",
		Store:             "info.dat",
		MaxRequestBytes:   8192,
		RateWindowSeconds: 10,
		RateLimit:         100,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "ATOMENGINE_LISTEN_ADDR")
	setString(&cfg.Store, "ATOMENGINE_STORE")
	setString(&cfg.StatusAddr, "ATOMENGINE_STATUS_ADDR")
	setInt(&cfg.MaxRequestBytes, "ATOMENGINE_MAX_REQUEST_BYTES")
	setInt(&cfg.RateWindowSeconds, "ATOMENGINE_RATE_WINDOW_SECONDS")
	setInt(&cfg.RateLimit, "ATOMENGINE_RATE_LIMIT")
	setString(&cfg.Log.Level, "ATOMENGINE_LOG_LEVEL")
	setString(&cfg.Log.File, "ATOMENGINE_LOG_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
