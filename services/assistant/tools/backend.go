// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the reference business backends for the assistant
// tool set: emergency contacts, shared-space lookup and reservations.
package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Space is one bookable or informational shared space.
type Space struct {
	ID          string
	Name        string
	Description string
	Location    string
	Capacity    int
	Bookable    bool
}

// Reservation is one confirmed booking.
type Reservation struct {
	ID        string
	SpaceID   string
	Date      string
	AccountID string
	CreatedAt time.Time
}

// Backend holds the in-memory business state behind the tool handlers.
//
// Thread Safety: Safe for concurrent use; reservations are the only
// mutable state and are mutex-guarded.
type Backend struct {
	emergencyNumbers []string
	generalInfo      []string
	spaces           map[string]Space
	spaceOrder       []string

	mu           sync.Mutex
	reservations map[string]Reservation
}

// NewBackend creates a Backend seeded with the residence reference data.
func NewBackend() *Backend {
	b := &Backend{
		emergencyNumbers: []string{
			"ACAF: 01 23 45 67 89",
			"SAMU (medical): 15",
			"Pompiers (fire): 18",
			"Police: 17",
			"European emergency number: 112",
		},
		generalInfo: []string{
			"Adresse de la résidence : 10 rue des Lilas, 75011 Paris",
			"Le gardien est présent du lundi au vendredi, de 8h00 à 12h00.",
			"Les encombrants sont collectés le premier mercredi du mois.",
			"Le local à vélos est accessible avec le badge résident.",
		},
		spaces:       make(map[string]Space),
		reservations: make(map[string]Reservation),
	}

	for _, space := range []Space{
		{
			ID:          "laundry",
			Name:        "Laundry room",
			Description: "Shared laundry with four washing machines and two dryers. Payment by resident card.",
			Location:    "Basement, building B",
			Capacity:    6,
		},
		{
			ID:          "gym",
			Name:        "Gym",
			Description: "Fitness room with cardio and weight equipment. Personal badge required.",
			Location:    "Ground floor, building A",
			Capacity:    10,
			Bookable:    true,
		},
		{
			ID:          "rooftop",
			Name:        "Roof terrace",
			Description: "Shared terrace with seating for events and gatherings.",
			Location:    "Top floor, building A",
			Capacity:    30,
			Bookable:    true,
		},
		{
			ID:          "workshop",
			Name:        "Workshop",
			Description: "DIY workshop with a shared workbench and basic tools.",
			Location:    "Basement, building A",
			Capacity:    4,
			Bookable:    true,
		},
	} {
		b.spaces[space.ID] = space
		b.spaceOrder = append(b.spaceOrder, space.ID)
	}
	return b
}

// EmergencyNumbers returns the emergency contact lines.
func (b *Backend) EmergencyNumbers() []string {
	return append([]string(nil), b.emergencyNumbers...)
}

// GeneralInfo returns the residence information lines.
func (b *Backend) GeneralInfo() []string {
	return append([]string(nil), b.generalInfo...)
}

// Spaces returns all spaces in seed order.
func (b *Backend) Spaces() []Space {
	spaces := make([]Space, 0, len(b.spaceOrder))
	for _, id := range b.spaceOrder {
		spaces = append(spaces, b.spaces[id])
	}
	return spaces
}

// Space looks up one space by id.
func (b *Backend) Space(id string) (Space, bool) {
	space, ok := b.spaces[id]
	return space, ok
}

// Available reports whether a space is free on a date.
func (b *Backend) Available(spaceID, date string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.reservations {
		if r.SpaceID == spaceID && r.Date == date {
			return false
		}
	}
	return true
}

// Reserve books a space for an account on a date.
func (b *Backend) Reserve(accountID, spaceID, date string) (Reservation, error) {
	space, ok := b.spaces[spaceID]
	if !ok {
		return Reservation{}, fmt.Errorf("unknown space %q", spaceID)
	}
	if !space.Bookable {
		return Reservation{}, fmt.Errorf("space %q cannot be reserved", spaceID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.reservations {
		if r.SpaceID == spaceID && r.Date == date {
			return Reservation{}, fmt.Errorf("space %q is already reserved on %s", spaceID, date)
		}
	}

	reservation := Reservation{
		ID:        uuid.NewString(),
		SpaceID:   spaceID,
		Date:      date,
		AccountID: accountID,
		CreatedAt: time.Now(),
	}
	b.reservations[reservation.ID] = reservation
	return reservation, nil
}

// ReservationsFor returns an account's reservations, oldest date first.
func (b *Backend) ReservationsFor(accountID string) []Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Reservation
	for _, r := range b.reservations {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Reservation looks up one reservation by id.
func (b *Backend) Reservation(id string) (Reservation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reservations[id]
	return r, ok
}
