// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package config loads and validates Coursevault configuration from
// layered sources (struct defaults, optional YAML file, environment
// variables) using Koanf v2.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	RemoteKV RemoteKVConfig `koanf:"remote_kv"`
	Backup   BackupConfig   `koanf:"backup"`
	Journal  JournalConfig  `koanf:"journal"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	// DataDir is where the durable-file backend keeps one JSON file per
	// collection.
	DataDir string `koanf:"data_dir" validate:"required"`

	// RuntimeMode selects the default active backend: "local" writes to
	// the file backend, "remote" writes to the remote key/value service
	// when it is configured.
	RuntimeMode string `koanf:"runtime_mode" validate:"oneof=local remote"`

	// DriftCheckInterval is how often the background drift monitor
	// diagnoses every collection. Zero disables the monitor.
	DriftCheckInterval time.Duration `koanf:"drift_check_interval"`
}

// RemoteKVConfig configures the optional remote key/value backend. The
// backend is available only when URL and Token are both set.
type RemoteKVConfig struct {
	URL        string        `koanf:"url" validate:"omitempty,url"`
	Token      string        `koanf:"token"`
	Namespace  string        `koanf:"namespace"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries" validate:"min=0,max=5"`
}

// Configured reports whether credentials for the remote backend are set.
func (c RemoteKVConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// BackupConfig configures scheduled consolidated backups.
type BackupConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// JournalConfig configures the durable operational event journal.
type JournalConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the BadgerDB directory for journal entries.
	Path string `koanf:"path"`

	// TTL bounds how long journal entries are retained.
	TTL time.Duration `koanf:"ttl"`

	// RecentLimit caps how many events the diagnostics surface returns.
	RecentLimit int `koanf:"recent_limit" validate:"min=1,max=1000"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration, including cross-field constraints
// that struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Store.RuntimeMode == "remote" && !c.RemoteKV.Configured() {
		return fmt.Errorf("runtime_mode is remote but remote_kv.url and remote_kv.token are not both set")
	}
	if c.Backup.Enabled && c.Backup.Interval < time.Minute {
		return fmt.Errorf("backup.interval must be at least 1m, got %s", c.Backup.Interval)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}
