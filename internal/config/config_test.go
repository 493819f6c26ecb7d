// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "duckdb" || cfg.Database.Path == "" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Backup.ChunkFloor != 500 || cfg.Backup.ChunkCeiling != 5000 {
		t.Errorf("Backup chunks = %d/%d", cfg.Backup.ChunkFloor, cfg.Backup.ChunkCeiling)
	}
	if cfg.Restore.DefaultMode != "tolerant" {
		t.Errorf("DefaultMode = %s", cfg.Restore.DefaultMode)
	}
	if cfg.Progress.WatchdogTimeout != 30*time.Minute {
		t.Errorf("WatchdogTimeout = %s", cfg.Progress.WatchdogTimeout)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: memory
backup:
  dir: /tmp/backups
logging:
  level: debug
`)
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want the file value", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.RateLimit != 60 {
		t.Errorf("RateLimit = %d", cfg.Server.RateLimit)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("BACKUP_EXCLUDE_ENTITIES", "system.session, system.permission")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, environment must beat the file", cfg.Server.Port)
	}
	want := []string{"system.session", "system.permission"}
	if !reflect.DeepEqual(cfg.Backup.ExcludeEntities, want) {
		t.Errorf("ExcludeEntities = %v, want %v", cfg.Backup.ExcludeEntities, want)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Format = %s", cfg.Logging.Format)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"chunk ceiling below floor", func(c *Config) {
			c.Backup.ChunkFloor = 100
			c.Backup.ChunkCeiling = 10
		}, true},
		{"duckdb without a path", func(c *Config) { c.Database.Path = "" }, true},
		{"memory driver needs no path", func(c *Config) {
			c.Database.Driver = "memory"
			c.Database.Path = ""
		}, false},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"unknown restore mode", func(c *Config) { c.Restore.DefaultMode = "lenient" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
