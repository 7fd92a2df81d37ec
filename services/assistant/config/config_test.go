// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MistralModel != "mistral-small-latest" {
		t.Errorf("MistralModel = %q", cfg.MistralModel)
	}
	if cfg.MemoryCap != 20 || cfg.ModelTimeoutSeconds != 30 || cfg.ToolTimeoutSeconds != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	err := os.WriteFile(path, []byte("listenAddr: \":9090\"\nmemoryCap: 50\nlogLevel: debug\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" || cfg.MemoryCap != 50 || cfg.LogLevel != "debug" {
		t.Errorf("file overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.MistralBaseURL != "https://api.mistral.ai/v1" {
		t.Errorf("MistralBaseURL = %q", cfg.MistralBaseURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	if err := os.WriteFile(path, []byte("memoryCap: 50\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCIERGE_MEMORY_CAP", "5")
	t.Setenv("CONCIERGE_MISTRAL_MODEL", "mistral-large-latest")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MemoryCap != 5 {
		t.Errorf("MemoryCap = %d, want env override 5", cfg.MemoryCap)
	}
	if cfg.MistralModel != "mistral-large-latest" {
		t.Errorf("MistralModel = %q", cfg.MistralModel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logLevel: verbose\n"},
		{"zero rate limit", "mistralRatePerMinute: 0\n"},
		{"bad base url", "mistralBaseUrl: not-a-url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "concierge.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadAPIKey_FromEnv(t *testing.T) {
	t.Setenv("CONCIERGE_MISTRAL_API_KEY", "test-key-123")

	secret, err := LoadAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	got, err := secret.Reveal()
	if err != nil {
		t.Fatal(err)
	}
	if got != "test-key-123" {
		t.Errorf("Reveal = %q", got)
	}
	// The variable must not linger in the environment.
	if os.Getenv("CONCIERGE_MISTRAL_API_KEY") != "" {
		t.Error("API key env var not cleared after sealing")
	}
}

func TestLoadAPIKey_Missing(t *testing.T) {
	t.Setenv("CONCIERGE_MISTRAL_API_KEY", "")
	t.Setenv("MISTRAL_API_KEY", "")

	if _, err := LoadAPIKey(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestSecret_RevealTwice(t *testing.T) {
	secret := NewSecret("value")
	for i := 0; i < 2; i++ {
		got, err := secret.Reveal()
		if err != nil {
			t.Fatal(err)
		}
		if got != "value" {
			t.Errorf("Reveal #%d = %q", i+1, got)
		}
	}
}
