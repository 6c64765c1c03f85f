// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order of
// priority. The first file found wins.
var DefaultConfigPaths = []string{
	"offcourse.yaml",
	"offcourse.yml",
	"/etc/offcourse/config.yaml",
	"/etc/offcourse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:   "https://app.offcourse.dev/api/1.1",
			APIKey:    "",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			RateBurst: 5,
			PageSize:  100,
		},
		Sync: SyncConfig{
			Interval:      5 * time.Minute,
			MaxRetries:    3,
			AllowCellular: false,
			InitialSync:   true,
		},
		Store: StoreConfig{
			Engine:    "duckdb",
			Path:      "/data/offcourse.duckdb",
			CachePath: "/data/cache",
		},
		Queue: QueueConfig{
			Path:       "/data/queue",
			SyncWrites: true,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8642",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// ENV beats everything. API_BASE_URL -> remote.base_url etc.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
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

// findConfigFile returns the first config file that exists, or "".
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

// envMappings maps environment variable names to koanf config paths.
// Variables not listed here are ignored, which keeps unrelated environment
// noise out of the configuration.
var envMappings = map[string]string{
	"api_base_url":  "remote.base_url",
	"api_key":       "remote.api_key",
	"api_timeout":   "remote.timeout",
	"api_rate":      "remote.rate_limit",
	"api_burst":     "remote.rate_burst",
	"api_page_size": "remote.page_size",

	"sync_interval":       "sync.interval",
	"sync_max_retries":    "sync.max_retries",
	"allow_cellular_sync": "sync.allow_cellular",
	"sync_on_start":       "sync.initial_sync",

	"store_engine": "store.engine",
	"store_path":   "store.path",
	"cache_path":   "store.cache_path",

	"queue_path":        "queue.path",
	"queue_sync_writes": "queue.sync_writes",

	"session_master_key": "session.master_key",

	"probe_interval": "connectivity.probe_interval",
	"probe_timeout":  "connectivity.probe_timeout",

	"http_enabled": "server.enabled",
	"http_addr":    "server.addr",
	"http_timeout": "server.timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Returning "" drops the variable.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
