// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package authctx defines the per-message authorization context consulted by
// the tool dispatcher and by business handlers.
package authctx

import (
	"errors"

	"github.com/AleutianAI/concierge/services/assistant/directory"
)

// ErrUnauthorized signals that a sensitive operation was attempted without a
// qualifying authorization context. It is the one error the dispatcher lets
// propagate instead of converting into a soft tool result, because it marks
// a policy breach the caller must handle distinctly.
var ErrUnauthorized = errors.New("unauthorized: authenticated direct-message context required")

// Context captures caller identity and channel visibility for one inbound
// message.
//
// Description:
//
//	Built once per message by the Resolver and never mutated afterwards.
//	It is the single source of truth for authorization and visibility
//	decisions: the dispatcher gates requiresAuth tools on Authenticated(),
//	and the orchestrator selects the public or private prompt context on
//	PublicResponse().
//
// Invariants:
//   - Authenticated() is true iff DirectMessage is true AND Account is set.
//   - PublicResponse() is the negation of DirectMessage.
//
// Thread Safety: Context is a value type; safe to copy and share.
type Context struct {
	// UserID is the opaque chat sender id (e.g. "@marie:chat.example.org").
	// Empty for anonymous senders.
	UserID string

	// RoomID identifies the conversation channel.
	RoomID string

	// DirectMessage is true for two-party rooms.
	DirectMessage bool

	// Account is the resolved directory record, or nil when the sender is
	// unknown to the directory.
	Account *directory.Account
}

// Authenticated reports whether the caller may invoke auth-gated tools.
// Authentication requires both a private channel and a resolved account:
// a known resident writing in a public room is still unauthenticated,
// because replies there are visible to everyone.
func (c Context) Authenticated() bool {
	return c.DirectMessage && c.Account != nil
}

// PublicResponse reports whether the reply will be visible to other room
// members.
func (c Context) PublicResponse() bool {
	return !c.DirectMessage
}

// PrivateResponse reports whether the reply goes to the sender alone.
func (c Context) PrivateResponse() bool {
	return c.DirectMessage
}

// AuthenticatedAccount returns the resolved account.
//
// Outputs:
//   - *directory.Account: The account, when Authenticated() is true.
//   - error: ErrUnauthorized otherwise.
func (c Context) AuthenticatedAccount() (*directory.Account, error) {
	if !c.Authenticated() {
		return nil, ErrUnauthorized
	}
	return c.Account, nil
}
