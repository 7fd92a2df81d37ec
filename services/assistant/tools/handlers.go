// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/dispatch"
)

const dateLayout = "2006-01-02"

// RegisterAll wires every reference handler into the dispatcher. The
// catalog must already declare the corresponding tool names.
func RegisterAll(d *dispatch.Dispatcher, b *Backend) error {
	handlers := map[string]dispatch.Handler{
		"get_emergency_numbers":    b.handleEmergencyNumbers,
		"get_infos":                b.handleInfos,
		"list_spaces":              b.handleListSpaces,
		"get_space_info":           b.handleSpaceInfo,
		"check_space_availability": b.handleAvailability,
		"create_reservation":       b.handleCreateReservation,
		"list_my_reservations":     b.handleListReservations,
		"get_reservation_details":  b.handleReservationDetails,
	}
	for name, h := range handlers {
		if err := d.Register(name, h); err != nil {
			return fmt.Errorf("tools: registering %s: %w", name, err)
		}
	}
	return nil
}

func (b *Backend) handleEmergencyNumbers(context.Context, json.RawMessage, authctx.Context) (dispatch.Result, error) {
	return dispatch.TextResult("Numéros d'urgence :\n" + strings.Join(b.EmergencyNumbers(), "\n")), nil
}

func (b *Backend) handleInfos(context.Context, json.RawMessage, authctx.Context) (dispatch.Result, error) {
	return dispatch.TextResult("Informations de la résidence :\n" + strings.Join(b.GeneralInfo(), "\n")), nil
}

func (b *Backend) handleListSpaces(context.Context, json.RawMessage, authctx.Context) (dispatch.Result, error) {
	var lines []string
	for _, space := range b.Spaces() {
		bookable := "informational"
		if space.Bookable {
			bookable = "bookable"
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s, capacity %d, %s)",
			space.ID, space.Name, space.Location, space.Capacity, bookable))
	}
	return dispatch.TextResult("Shared spaces:\n" + strings.Join(lines, "\n")), nil
}

type spaceArgs struct {
	SpaceID string `json:"spaceId"`
}

func (b *Backend) handleSpaceInfo(_ context.Context, args json.RawMessage, _ authctx.Context) (dispatch.Result, error) {
	var in spaceArgs
	if err := json.Unmarshal(args, &in); err != nil || in.SpaceID == "" {
		return dispatch.ErrorResult("get_space_info requires a spaceId argument"), nil
	}
	space, ok := b.Space(in.SpaceID)
	if !ok {
		return dispatch.ErrorResult("unknown space %q, use list_spaces to see available spaces", in.SpaceID), nil
	}
	return dispatch.TextResult(fmt.Sprintf("%s\nLocation: %s\nCapacity: %d\n%s",
		space.Name, space.Location, space.Capacity, space.Description)), nil
}

type availabilityArgs struct {
	SpaceID string `json:"spaceId"`
	Date    string `json:"date"`
}

func (b *Backend) handleAvailability(_ context.Context, args json.RawMessage, _ authctx.Context) (dispatch.Result, error) {
	var in availabilityArgs
	if err := json.Unmarshal(args, &in); err != nil || in.SpaceID == "" || in.Date == "" {
		return dispatch.ErrorResult("check_space_availability requires spaceId and date arguments"), nil
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return dispatch.ErrorResult("date must use the YYYY-MM-DD format, got %q", in.Date), nil
	}
	space, ok := b.Space(in.SpaceID)
	if !ok {
		return dispatch.ErrorResult("unknown space %q, use list_spaces to see available spaces", in.SpaceID), nil
	}
	if !space.Bookable {
		return dispatch.ErrorResult("space %q is informational and cannot be reserved", in.SpaceID), nil
	}
	if b.Available(in.SpaceID, in.Date) {
		return dispatch.TextResult(fmt.Sprintf("%s is available on %s.", space.Name, in.Date)), nil
	}
	return dispatch.TextResult(fmt.Sprintf("%s is already reserved on %s.", space.Name, in.Date)), nil
}

func (b *Backend) handleCreateReservation(_ context.Context, args json.RawMessage, auth authctx.Context) (dispatch.Result, error) {
	account, err := auth.AuthenticatedAccount()
	if err != nil {
		return dispatch.Result{}, err
	}

	var in availabilityArgs
	if err := json.Unmarshal(args, &in); err != nil || in.SpaceID == "" || in.Date == "" {
		return dispatch.ErrorResult("create_reservation requires spaceId and date arguments"), nil
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return dispatch.ErrorResult("date must use the YYYY-MM-DD format, got %q", in.Date), nil
	}

	reservation, err := b.Reserve(account.ID, in.SpaceID, in.Date)
	if err != nil {
		return dispatch.ErrorResult("reservation failed: %s", err.Error()), nil
	}
	space, _ := b.Space(reservation.SpaceID)
	return dispatch.TextResult(fmt.Sprintf("Reservation confirmed: %s on %s (reference %s).",
		space.Name, reservation.Date, reservation.ID)), nil
}

func (b *Backend) handleListReservations(_ context.Context, _ json.RawMessage, auth authctx.Context) (dispatch.Result, error) {
	account, err := auth.AuthenticatedAccount()
	if err != nil {
		return dispatch.Result{}, err
	}

	reservations := b.ReservationsFor(account.ID)
	if len(reservations) == 0 {
		return dispatch.TextResult("You have no reservations."), nil
	}
	var lines []string
	for _, r := range reservations {
		space, _ := b.Space(r.SpaceID)
		lines = append(lines, fmt.Sprintf("%s on %s (reference %s)", space.Name, r.Date, r.ID))
	}
	return dispatch.TextResult("Your reservations:\n" + strings.Join(lines, "\n")), nil
}

type reservationArgs struct {
	ReservationID string `json:"reservationId"`
}

func (b *Backend) handleReservationDetails(_ context.Context, args json.RawMessage, auth authctx.Context) (dispatch.Result, error) {
	account, err := auth.AuthenticatedAccount()
	if err != nil {
		return dispatch.Result{}, err
	}

	var in reservationArgs
	if err := json.Unmarshal(args, &in); err != nil || in.ReservationID == "" {
		return dispatch.ErrorResult("get_reservation_details requires a reservationId argument"), nil
	}

	reservation, ok := b.Reservation(in.ReservationID)
	if !ok || reservation.AccountID != account.ID {
		// Do not leak whether someone else's reservation exists.
		return dispatch.ErrorResult("no reservation %q found for your account", in.ReservationID), nil
	}
	space, _ := b.Space(reservation.SpaceID)
	return dispatch.TextResult(fmt.Sprintf("Reservation %s: %s on %s, booked %s.",
		reservation.ID, space.Name, reservation.Date,
		reservation.CreatedAt.Format(time.RFC3339))), nil
}
