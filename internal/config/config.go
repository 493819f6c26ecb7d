// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then environment variables. Precedence is
// ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file search order. The first file
// found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/finspilot/config.yaml",
	"/etc/finspilot/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
}

// DatabaseConfig selects the record store backend.
type DatabaseConfig struct {
	// Driver is "duckdb" or "memory". The memory store exists for tests
	// and demos.
	Driver    string `koanf:"driver" validate:"oneof=duckdb memory"`
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`
}

// BackupConfig governs the serializer and backup storage.
type BackupConfig struct {
	Dir             string   `koanf:"dir" validate:"required"`
	ChunkFloor      int      `koanf:"chunk_floor" validate:"min=1"`
	ChunkCeiling    int      `koanf:"chunk_ceiling" validate:"min=1"`
	ChunksPerSecond float64  `koanf:"chunks_per_second" validate:"min=0"`
	ExcludeEntities []string `koanf:"exclude_entities"`
}

// RestoreConfig sets restore defaults that requests may override.
type RestoreConfig struct {
	DefaultMode                  string `koanf:"default_mode" validate:"oneof=strict tolerant"`
	SubstituteArbitraryReference bool   `koanf:"substitute_arbitrary_reference"`
}

// ProgressConfig tunes staleness detection and persistence.
type ProgressConfig struct {
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout" validate:"min=0"`
	StallTimeout    time.Duration `koanf:"stall_timeout" validate:"min=0"`

	// PersistDir enables BadgerDB persistence of progress snapshots when
	// set, so a restart does not forget a running operation's last state.
	PersistDir string `koanf:"persist_dir"`
}

// LoggingConfig mirrors the logging package's options.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Backup   BackupConfig   `koanf:"backup"`
	Restore  RestoreConfig  `koanf:"restore"`
	Progress ProgressConfig `koanf:"progress"`
	Logging  LoggingConfig  `koanf:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       60,
		},
		Database: DatabaseConfig{
			Driver:    "duckdb",
			Path:      "/data/finspilot.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime decides
		},
		Backup: BackupConfig{
			Dir:             "/data/backups",
			ChunkFloor:      500,
			ChunkCeiling:    5000,
			ChunksPerSecond: 0,
		},
		Restore: RestoreConfig{
			DefaultMode:                  "tolerant",
			SubstituteArbitraryReference: false,
		},
		Progress: ProgressConfig{
			WatchdogTimeout: 30 * time.Minute,
			StallTimeout:    45 * time.Second,
			PersistDir:      "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, then validates it.
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

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Backup.ChunkCeiling < c.Backup.ChunkFloor {
		return fmt.Errorf("backup.chunk_ceiling (%d) below backup.chunk_floor (%d)", c.Backup.ChunkCeiling, c.Backup.ChunkFloor)
	}
	if c.Database.Driver == "duckdb" && c.Database.Path == "" {
		return fmt.Errorf("database.path required for the duckdb driver")
	}
	return nil
}

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

// sliceConfigPaths are parsed from comma-separated strings when set via
// environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"backup.exclude_entities",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names onto config paths.
// Examples:
//
//	HTTP_PORT            -> server.port
//	DUCKDB_PATH          -> database.path
//	BACKUP_DIR           -> backup.dir
//	PROGRESS_PERSIST_DIR -> progress.persist_dir
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"cors_origins":          "server.cors_origins",
		"http_rate_limit":       "server.rate_limit",

		"database_driver":   "database.driver",
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"backup_dir":               "backup.dir",
		"backup_chunk_floor":       "backup.chunk_floor",
		"backup_chunk_ceiling":     "backup.chunk_ceiling",
		"backup_chunks_per_second": "backup.chunks_per_second",
		"backup_exclude_entities":  "backup.exclude_entities",

		"restore_default_mode":         "restore.default_mode",
		"restore_substitute_reference": "restore.substitute_arbitrary_reference",

		"progress_watchdog_timeout": "progress.watchdog_timeout",
		"progress_stall_timeout":    "progress.stall_timeout",
		"progress_persist_dir":      "progress.persist_dir",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	// Unknown variables are ignored rather than guessed at.
	return ""
}
