// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first match
// wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/coursevault/config.yaml",
	"/etc/coursevault/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			DataDir:            "/data/collections",
			RuntimeMode:        "local",
			DriftCheckInterval: 5 * time.Minute,
		},
		RemoteKV: RemoteKVConfig{
			URL:        "",
			Token:      "",
			Namespace:  "coursevault",
			Timeout:    10 * time.Second,
			MaxRetries: 1,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Interval: 24 * time.Hour,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "/data/journal",
			TTL:         7 * 24 * time.Hour,
			RecentLimit: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// envPaths maps recognized environment variables to koanf paths. Variables
// not in this table are ignored, so unrelated process environment never
// leaks into the configuration.
var envPaths = map[string]string{
	"SERVER_HOST":          "server.host",
	"SERVER_PORT":          "server.port",
	"DATA_DIR":             "store.data_dir",
	"RUNTIME_MODE":         "store.runtime_mode",
	"DRIFT_CHECK_INTERVAL": "store.drift_check_interval",
	"REMOTE_KV_URL":        "remote_kv.url",
	"REMOTE_KV_TOKEN":      "remote_kv.token",
	"REMOTE_KV_NAMESPACE":  "remote_kv.namespace",
	"REMOTE_KV_TIMEOUT":    "remote_kv.timeout",
	"REMOTE_KV_RETRIES":    "remote_kv.max_retries",
	"BACKUP_ENABLED":       "backup.enabled",
	"BACKUP_INTERVAL":      "backup.interval",
	"JOURNAL_ENABLED":      "journal.enabled",
	"JOURNAL_PATH":         "journal.path",
	"JOURNAL_TTL":          "journal.ttl",
	"LOG_LEVEL":            "logging.level",
	"LOG_FORMAT":           "logging.format",
	"LOG_CALLER":           "logging.caller",
}

// Load builds the configuration from layered sources, highest priority
// last:
//
//  1. Built-in defaults (struct provider)
//  2. Optional YAML config file
//  3. Recognized environment variables
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(key string) string {
		return envPaths[key]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
