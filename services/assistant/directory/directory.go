// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package directory stores resident accounts keyed by normalized username.
// The auth resolver consults it to decide whether a chat sender maps to a
// known resident.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrAccountNotFound is returned when no account exists for a username.
var ErrAccountNotFound = errors.New("directory: account not found")

// accountKeyPrefix namespaces account records inside the Badger keyspace.
const accountKeyPrefix = "account:"

// Account is a resident record resolved from the directory.
//
// Thread Safety: Account values are copied out of the store; treat them as
// immutable snapshots.
type Account struct {
	// ID is the stable account identifier.
	ID string `json:"id"`

	// Username is the normalized login name (lowercase, [a-z0-9_] only).
	Username string `json:"username"`

	// DisplayName is shown in replies and audit logs.
	DisplayName string `json:"displayName"`

	// Email is the contact address on file.
	Email string `json:"email,omitempty"`

	// Locale is the preferred reply language (e.g. "fr", "en").
	Locale string `json:"locale,omitempty"`

	// Admin marks accounts allowed to invoke admin-prefixed tools.
	Admin bool `json:"admin,omitempty"`
}

// Store is a Badger-backed account directory.
//
// Description:
//
//	Accounts are stored as JSON values under "account:<username>" keys.
//	The store supports an in-memory mode for tests and for deployments
//	that provision accounts at startup and need no durability.
//
// Thread Safety: Safe for concurrent use; Badger provides its own
// transaction isolation.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a directory at path. An empty path opens an
// in-memory store.
//
// Inputs:
//   - path: Filesystem directory for the Badger store, or "" for in-memory.
//
// Outputs:
//   - *Store: The opened store. Callers must Close it.
//   - error: Non-nil when Badger cannot open the path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("directory: opening store: %w", err)
	}

	slog.Info("Directory store opened",
		slog.String("path", path),
		slog.Bool("in_memory", path == ""),
	)
	return &Store{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces an account record.
//
// Inputs:
//   - account: The record to store. Username must be non-empty and already
//     normalized (see authctx.NormalizeUsername).
//
// Outputs:
//   - error: Non-nil on an empty username or a storage failure.
func (s *Store) Put(account Account) error {
	if account.Username == "" {
		return fmt.Errorf("directory: account username is empty")
	}

	value, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("directory: marshaling account %q: %w", account.Username, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(accountKeyPrefix+account.Username), value)
	})
	if err != nil {
		return fmt.Errorf("directory: storing account %q: %w", account.Username, err)
	}
	return nil
}

// FindByUsername looks up an account by normalized username.
//
// Outputs:
//   - *Account: The matching record.
//   - error: ErrAccountNotFound when no record exists; otherwise a storage
//     or decoding failure.
func (s *Store) FindByUsername(username string) (*Account, error) {
	var account Account

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(accountKeyPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &account)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("directory: username %q: %w", username, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: looking up %q: %w", username, err)
	}

	return &account, nil
}

// Seed loads a batch of accounts, replacing existing records with the same
// username. Used at startup to provision the directory from configuration.
func (s *Store) Seed(accounts []Account) error {
	for _, a := range accounts {
		if err := s.Put(a); err != nil {
			return err
		}
	}
	slog.Info("Directory seeded", slog.Int("accounts", len(accounts)))
	return nil
}
