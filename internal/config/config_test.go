// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.RuntimeMode != "local" {
		t.Errorf("expected local mode, got %s", cfg.Store.RuntimeMode)
	}
	if cfg.Store.DataDir != "/data/collections" {
		t.Errorf("unexpected default data dir %s", cfg.Store.DataDir)
	}
	if cfg.RemoteKV.Configured() {
		t.Error("remote backend must not be configured by default")
	}
	if cfg.RemoteKV.Namespace != "coursevault" {
		t.Errorf("unexpected default namespace %s", cfg.RemoteKV.Namespace)
	}
	if !cfg.Journal.Enabled || cfg.Journal.TTL != 7*24*time.Hour {
		t.Errorf("unexpected journal defaults: %+v", cfg.Journal)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATA_DIR", "/tmp/coursevault-test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKUP_ENABLED", "true")
	t.Setenv("BACKUP_INTERVAL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("env port override not applied, got %d", cfg.Server.Port)
	}
	if cfg.Store.DataDir != "/tmp/coursevault-test" {
		t.Errorf("env data dir override not applied, got %s", cfg.Store.DataDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env log level override not applied, got %s", cfg.Logging.Level)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Interval != 2*time.Hour {
		t.Errorf("env backup overrides not applied: %+v", cfg.Backup)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 7070
store:
  runtime_mode: remote
remote_kv:
  url: https://kv.example.com
  token: test-token
  namespace: staging
`
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with config file failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("file port not applied, got %d", cfg.Server.Port)
	}
	if cfg.Store.RuntimeMode != "remote" {
		t.Errorf("file mode not applied, got %s", cfg.Store.RuntimeMode)
	}
	if !cfg.RemoteKV.Configured() || cfg.RemoteKV.Namespace != "staging" {
		t.Errorf("file remote settings not applied: %+v", cfg.RemoteKV)
	}

	// Defaults for keys the file omits still hold.
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("default read timeout lost, got %s", cfg.Server.ReadTimeout)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("env must win over the config file, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"defaults are valid", func(cfg *Config) {}, false},
		{"port out of range", func(cfg *Config) { cfg.Server.Port = 0 }, true},
		{"unknown runtime mode", func(cfg *Config) { cfg.Store.RuntimeMode = "hybrid" }, true},
		{"empty data dir", func(cfg *Config) { cfg.Store.DataDir = "" }, true},
		{"remote mode without credentials", func(cfg *Config) { cfg.Store.RuntimeMode = "remote" }, true},
		{
			"remote mode with credentials",
			func(cfg *Config) {
				cfg.Store.RuntimeMode = "remote"
				cfg.RemoteKV.URL = "https://kv.example.com"
				cfg.RemoteKV.Token = "secret"
			},
			false,
		},
		{"malformed remote url", func(cfg *Config) { cfg.RemoteKV.URL = "::not-a-url" }, true},
		{
			"backup interval too short",
			func(cfg *Config) {
				cfg.Backup.Enabled = true
				cfg.Backup.Interval = time.Second
			},
			true,
		},
		{
			"journal enabled without path",
			func(cfg *Config) { cfg.Journal.Path = "" },
			true,
		},
		{"unknown log level", func(cfg *Config) { cfg.Logging.Level = "verbose" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("expected 127.0.0.1:9000, got %s", got)
	}
}
