// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package authctx

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/concierge/services/assistant/directory"
)

// usernameNormalizer collapses everything outside [a-z0-9_] to underscores.
// Chat usernames and directory usernames differ in punctuation; both sides
// normalize to the same alphabet before comparison.
var usernameNormalizer = regexp.MustCompile(`[^a-z0-9_]`)

// Resolver builds authorization contexts from raw transport inputs.
//
// Thread Safety: Safe for concurrent use; the directory store synchronizes
// its own access.
type Resolver struct {
	dir *directory.Store
}

// NewResolver creates a Resolver backed by the given directory store.
func NewResolver(dir *directory.Store) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve constructs the Context for one inbound message.
//
// Description:
//
//	Extracts the localpart from a "@username:server" chat id, normalizes it,
//	and looks it up in the directory. A missing or unmatchable sender yields
//	an unauthenticated context rather than an error: unknown users may still
//	ask public questions.
//
// Inputs:
//   - userID: Raw chat sender id. May be empty.
//   - roomID: Conversation channel id.
//   - directMessage: True for two-party rooms.
//
// Outputs:
//   - Context: Fully populated context; Account is nil when unresolved.
func (r *Resolver) Resolve(userID, roomID string, directMessage bool) Context {
	ctx := Context{
		UserID:        userID,
		RoomID:        roomID,
		DirectMessage: directMessage,
	}

	username := extractLocalpart(userID)
	if username == "" {
		return ctx
	}

	normalized := NormalizeUsername(username)
	account, err := r.dir.FindByUsername(normalized)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			slog.Debug("Sender not found in directory",
				slog.String("username", normalized),
				slog.String("room", roomID),
			)
		} else {
			slog.Warn("Directory lookup failed",
				slog.String("username", normalized),
				slog.String("error", err.Error()),
			)
		}
		return ctx
	}

	ctx.Account = account
	return ctx
}

// NormalizeUsername lowercases a username and replaces every character
// outside [a-z0-9_] with an underscore.
func NormalizeUsername(username string) string {
	return usernameNormalizer.ReplaceAllString(strings.ToLower(username), "_")
}

// extractLocalpart pulls "username" out of "@username:server". Returns the
// empty string when the id does not carry a localpart.
func extractLocalpart(userID string) string {
	if userID == "" || !strings.HasPrefix(userID, "@") {
		return ""
	}
	rest := userID[1:]
	if idx := strings.IndexByte(rest, ':'); idx > 0 {
		return rest[:idx]
	}
	return rest
}
