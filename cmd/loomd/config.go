package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all loom daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	PoolSize          int    `json:"pool_size"`
	CompletionURL     string `json:"completion_url"`
	CompletionAPIKey  string `json:"completion_api_key"`
	CompletionTimeout string `json:"completion_timeout"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(loomDir(), "loom.db"),
		LogLevel:          "info",
		PoolSize:          4,
		CompletionTimeout: "60s",
	}
}

func loomDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loom"
	}
	return filepath.Join(home, ".loom")
}

func settingsPath() string {
	return filepath.Join(loomDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LOOM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOOM_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("LOOM_COMPLETION_URL"); v != "" {
		cfg.CompletionURL = v
	}
	if v := os.Getenv("LOOM_COMPLETION_API_KEY"); v != "" {
		cfg.CompletionAPIKey = v
	}
	if v := os.Getenv("LOOM_COMPLETION_TIMEOUT"); v != "" {
		cfg.CompletionTimeout = v
	}

	return cfg
}

func (c Config) completionTimeout() time.Duration {
	d, err := time.ParseDuration(c.CompletionTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
