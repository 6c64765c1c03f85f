// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("sync interval default = %v, want 5m", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max retries default = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Store.Engine != "duckdb" {
		t.Errorf("store engine default = %q, want duckdb", cfg.Store.Engine)
	}
}

func TestValidateRejectsBadEngine(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Engine = "flatfile"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown store engine")
	}
}

func TestValidateRejectsBadURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Remote.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for malformed base URL")
	}
}

func TestEnvOverridesFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "offcourse.yaml")
	yamlBody := "remote:\n  base_url: https://file.example.com/api/1.1\nsync:\n  max_retries: 5\n"
	if err := os.WriteFile(cfgFile, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, cfgFile)
	t.Setenv("SYNC_MAX_RETRIES", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// file beats defaults
	if cfg.Remote.BaseURL != "https://file.example.com/api/1.1" {
		t.Errorf("base url = %q, want file value", cfg.Remote.BaseURL)
	}
	// env beats file
	if cfg.Sync.MaxRetries != 2 {
		t.Errorf("max retries = %d, want env value 2", cfg.Sync.MaxRetries)
	}
	// untouched values keep defaults
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("interval = %v, want default 5m", cfg.Sync.Interval)
	}
}

func TestEnvTransformIgnoresUnknownVars(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("unrelated env var mapped to %q, want dropped", got)
	}
	if got := envTransformFunc("API_KEY"); got != "remote.api_key" {
		t.Errorf("API_KEY mapped to %q", got)
	}
}
