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
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

const apiKeySecretFile = "/run/secrets/mistral_api_key"

// ErrNoAPIKey indicates that no provider API key could be found.
var ErrNoAPIKey = errors.New("config: no Mistral API key in CONCIERGE_MISTRAL_API_KEY, MISTRAL_API_KEY, or /run/secrets/mistral_api_key")

// Secret holds a sensitive value sealed in an encrypted memguard enclave.
// The plaintext only exists in locked memory while Reveal copies it out.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals a value. The input string cannot be scrubbed (Go strings
// are immutable), so callers should seal as early as possible.
func NewSecret(value string) *Secret {
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// Reveal decrypts the secret and returns a copy of its value.
func (s *Secret) Reveal() (string, error) {
	buf, err := s.enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// LoadAPIKey finds the Mistral API key and seals it.
//
// Description:
//
//	Sources, in order: CONCIERGE_MISTRAL_API_KEY, MISTRAL_API_KEY, the
//	container secret file /run/secrets/mistral_api_key. The environment
//	variable is cleared after sealing so the key does not linger in the
//	process environment.
func LoadAPIKey() (*Secret, error) {
	for _, key := range []string{"CONCIERGE_MISTRAL_API_KEY", "MISTRAL_API_KEY"} {
		if val := os.Getenv(key); val != "" {
			os.Unsetenv(key)
			slog.Debug("API key loaded from environment", slog.String("var", key))
			return NewSecret(val), nil
		}
	}

	if data, err := os.ReadFile(apiKeySecretFile); err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			slog.Debug("API key loaded from secret file", slog.String("path", apiKeySecretFile))
			return NewSecret(key), nil
		}
	}

	return nil, ErrNoAPIKey
}
