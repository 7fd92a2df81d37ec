// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration: YAML file, CONCIERGE_*
// environment overrides, validation, and the provider API key secret.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
//
// Description:
//
//	Values come from three layers, each overriding the previous:
//	built-in defaults, an optional YAML file, and CONCIERGE_* environment
//	variables. The merged result is validated before use.
//
// Thread Safety: Config is read-only after Load. Safe to share.
type Config struct {
	// ListenAddr is the HTTP listen address.
	// Env: CONCIERGE_LISTEN_ADDR (default: ":8080")
	ListenAddr string `yaml:"listenAddr" validate:"required"`

	// MistralModel is the chat-completions model name.
	// Env: CONCIERGE_MISTRAL_MODEL (default: "mistral-small-latest")
	MistralModel string `yaml:"mistralModel" validate:"required"`

	// MistralBaseURL is the provider API base URL.
	// Env: CONCIERGE_MISTRAL_BASE_URL (default: "https://api.mistral.ai/v1")
	MistralBaseURL string `yaml:"mistralBaseUrl" validate:"required,url"`

	// MistralRatePerMinute caps provider calls per minute.
	// Env: CONCIERGE_MISTRAL_RATE_PER_MIN (default: 60)
	MistralRatePerMinute int `yaml:"mistralRatePerMinute" validate:"gte=1"`

	// ModelTimeoutSeconds bounds each individual model call.
	// Env: CONCIERGE_MODEL_TIMEOUT_SECONDS (default: 30)
	ModelTimeoutSeconds int `yaml:"modelTimeoutSeconds" validate:"gte=1,lte=300"`

	// ToolTimeoutSeconds bounds each tool handler invocation.
	// Env: CONCIERGE_TOOL_TIMEOUT_SECONDS (default: 10)
	ToolTimeoutSeconds int `yaml:"toolTimeoutSeconds" validate:"gte=1,lte=120"`

	// MemoryCap is the per-room conversation turn cap.
	// Env: CONCIERGE_MEMORY_CAP (default: 20)
	MemoryCap int `yaml:"memoryCap" validate:"gte=1"`

	// ToolsFile is the tool catalog YAML path.
	// Env: CONCIERGE_TOOLS_FILE (default: "configs/tools.yaml")
	ToolsFile string `yaml:"toolsFile" validate:"required"`

	// DocumentationFile is an optional documentation YAML for retrieval.
	// Env: CONCIERGE_DOCUMENTATION_FILE (default: "")
	DocumentationFile string `yaml:"documentationFile"`

	// DirectoryPath is the Badger directory for the resident directory.
	// Empty runs the directory in memory.
	// Env: CONCIERGE_DIRECTORY_PATH (default: "")
	DirectoryPath string `yaml:"directoryPath"`

	// LogLevel is the slog level.
	// Env: CONCIERGE_LOG_LEVEL (default: "info")
	LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		MistralModel:         "mistral-small-latest",
		MistralBaseURL:       "https://api.mistral.ai/v1",
		MistralRatePerMinute: 60,
		ModelTimeoutSeconds:  30,
		ToolTimeoutSeconds:   10,
		MemoryCap:            20,
		ToolsFile:            "configs/tools.yaml",
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the CONCIERGE_* environment, then validates it.
//
// Inputs:
//   - path: YAML file path; empty skips the file layer.
//
// Outputs:
//   - *Config: The merged, validated configuration.
//   - error: Non-nil on a missing/unparsable file or a validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envString("CONCIERGE_LISTEN_ADDR", c.ListenAddr)
	c.MistralModel = envString("CONCIERGE_MISTRAL_MODEL", c.MistralModel)
	c.MistralBaseURL = envString("CONCIERGE_MISTRAL_BASE_URL", c.MistralBaseURL)
	c.MistralRatePerMinute = envInt("CONCIERGE_MISTRAL_RATE_PER_MIN", c.MistralRatePerMinute)
	c.ModelTimeoutSeconds = envInt("CONCIERGE_MODEL_TIMEOUT_SECONDS", c.ModelTimeoutSeconds)
	c.ToolTimeoutSeconds = envInt("CONCIERGE_TOOL_TIMEOUT_SECONDS", c.ToolTimeoutSeconds)
	c.MemoryCap = envInt("CONCIERGE_MEMORY_CAP", c.MemoryCap)
	c.ToolsFile = envString("CONCIERGE_TOOLS_FILE", c.ToolsFile)
	c.DocumentationFile = envString("CONCIERGE_DOCUMENTATION_FILE", c.DocumentationFile)
	c.DirectoryPath = envString("CONCIERGE_DIRECTORY_PATH", c.DirectoryPath)
	c.LogLevel = envString("CONCIERGE_LOG_LEVEL", c.LogLevel)
}

// envString reads a string environment variable with a default value.
func envString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
