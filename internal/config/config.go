// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package config provides layered configuration management for Offcourse.
//
// Configuration is loaded in three layers with clear precedence:
//
//	ENV > config file (YAML) > built-in defaults
//
// See Load for the entry point. Struct fields carry koanf tags for
// unmarshaling and validator tags for validation.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the sync engine daemon.
type Config struct {
	Remote       RemoteConfig       `koanf:"remote"`
	Sync         SyncConfig         `koanf:"sync"`
	Store        StoreConfig        `koanf:"store"`
	Queue        QueueConfig        `koanf:"queue"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Session      SessionConfig      `koanf:"session"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	// MasterKey is a base64-encoded key (>= 16 bytes decoded) used to
	// encrypt the session token at rest. Empty disables encryption.
	MasterKey string `koanf:"master_key"`
}

// RemoteConfig describes the hosted backend the engine syncs against.
type RemoteConfig struct {
	// BaseURL is the root of the remote API, e.g. https://app.example.com/api/1.1
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// APIKey authenticates data-API requests. Supplied externally.
	APIKey string `koanf:"api_key"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout" validate:"gte=1s"`

	// RateLimit is the sustained request rate (requests/second) allowed
	// against the remote API. RateBurst is the burst allowance.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	// PageSize is the cursor-pagination page size for list calls.
	PageSize int `koanf:"page_size" validate:"gte=1,lte=500"`
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	// Interval is the periodic sync cadence while a session is active.
	Interval time.Duration `koanf:"interval" validate:"gte=30s"`

	// MaxRetries is the per-mutation retry ceiling. A queued mutation that
	// fails this many times is dropped and reported as a permanent failure.
	MaxRetries int `koanf:"max_retries" validate:"gte=1,lte=10"`

	// AllowCellular permits background sync over cellular connections.
	AllowCellular bool `koanf:"allow_cellular"`

	// InitialSync triggers a sync pass at startup.
	InitialSync bool `koanf:"initial_sync"`
}

// StoreConfig selects and locates the local store engine.
type StoreConfig struct {
	// Engine is the persistence engine: "duckdb" (embedded relational) or
	// "document" (Badger-backed single-document store). Selected once at
	// startup; callers never branch on it.
	Engine string `koanf:"engine" validate:"oneof=duckdb document"`

	// Path is the DuckDB database file (duckdb engine only).
	Path string `koanf:"path" validate:"required"`

	// CachePath is the Badger directory holding the document store,
	// offline snapshot, entitlement cache and session data.
	CachePath string `koanf:"cache_path" validate:"required"`
}

// QueueConfig locates the durable offline mutation queue.
type QueueConfig struct {
	Path string `koanf:"path" validate:"required"`

	// SyncWrites forces an fsync per mutation so the queue survives
	// process kills, not just clean shutdowns.
	SyncWrites bool `koanf:"sync_writes"`
}

// ConnectivityConfig controls the connectivity monitor.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval" validate:"gte=1s"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout" validate:"gte=100ms"`
}

// ServerConfig controls the operational HTTP surface (health, metrics,
// manual sync trigger). Not a user-facing API.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required"`

	Timeout time.Duration `koanf:"timeout" validate:"gte=1s"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency. Called by Load; exposed
// for tests and for callers that build a Config by hand.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
