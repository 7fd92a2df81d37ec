// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds the per-room bounded conversation history that
// conditions subsequent model turns.
package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultCap is the per-room turn limit when none is configured.
const DefaultCap = 20

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry in a room's conversation log.
type Turn struct {
	Role    Role
	Content string

	// ToolCallID links tool turns back to the call that produced them.
	ToolCallID string
}

// Memory is a concurrency-safe map of room id to bounded turn log.
//
// Description:
//
//	The only state shared across concurrent requests. Appends within one
//	room keep order; when a room exceeds the cap, the oldest turns are
//	evicted FIFO before Append returns. History is best-effort context,
//	not durable state: nothing survives a restart.
//
//	Each room also gets a conversation trace id on first use, stable for
//	the life of the room's history and rotated by Clear.
//
// Thread Safety: All methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	cap      int
	rooms    map[string][]Turn
	traceIDs map[string]string
}

// New creates a Memory with the given per-room cap. Values <= 0 use
// DefaultCap.
func New(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Memory{
		cap:      capacity,
		rooms:    make(map[string][]Turn),
		traceIDs: make(map[string]string),
	}
}

// Append adds a turn to a room's history, evicting the oldest turns when
// the cap is exceeded.
func (m *Memory) Append(roomID string, turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.rooms[roomID], turn)
	if overflow := len(history) - m.cap; overflow > 0 {
		evicted := make([]Turn, len(history)-overflow)
		copy(evicted, history[overflow:])
		history = evicted
		slog.Debug("Trimmed conversation history",
			slog.String("room", roomID),
			slog.Int("evicted", overflow),
		)
	}
	m.rooms[roomID] = history
}

// History returns a copy of a room's turns, oldest first. Unknown rooms
// return an empty slice.
func (m *Memory) History(roomID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.rooms[roomID]
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}

// Len returns the number of turns stored for a room.
func (m *Memory) Len(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[roomID])
}

// Clear drops a room's history and its conversation trace id.
func (m *Memory) Clear(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, roomID)
	delete(m.traceIDs, roomID)
	slog.Info("Cleared conversation history", slog.String("room", roomID))
}

// TraceID returns the room's conversation trace id, creating one on first
// use. The id is stable until Clear.
func (m *Memory) TraceID(roomID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.traceIDs[roomID]; ok {
		return id
	}
	id := uuid.NewString()
	m.traceIDs[roomID] = id
	return id
}
