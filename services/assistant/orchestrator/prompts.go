// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"regexp"
	"strings"
)

const basePrompt = `You are Concierge, the AI assistant for a residential community portal.
You answer residents' questions about the building, shared spaces, and services.

ABSOLUTE RULE - NEVER INVENT INFORMATION:
- If you do NOT have the information in the conversation context or via the
  available tools, say so and use the appropriate tool to look it up.
- Never state an address, phone number, or opening hours that did not come
  from a tool result or the documentation context.`

const minimalPrompt = `You are Concierge, the residential community assistant.
ABSOLUTE RULE: NEVER invent information. Use the available tools if necessary.`

const publicRoomContext = `WARNING: You are answering in a public room. Do not share personal or
sensitive information. Redirect residents to a direct message for anything
involving their account or reservations.`

const privateRoomContext = `You are in a direct message with an authenticated resident. You may discuss
their reservations and account details.`

const reservationFlowPrompt = `Reservation flow: to book a shared space, first check availability with
check_space_availability, then confirm the space and date with the resident
before calling create_reservation.`

// buildSystemPrompt assembles the full first-turn prompt. The visibility
// block depends on where the question was asked; the reservation flow is
// only taught to callers who can actually reserve.
func buildSystemPrompt(publicResponse, authenticated bool) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	if publicResponse {
		b.WriteString(publicRoomContext)
	} else {
		b.WriteString(privateRoomContext)
	}
	if authenticated {
		b.WriteString("\n\n")
		b.WriteString(reservationFlowPrompt)
	}
	return b.String()
}

// buildMinimalSystemPrompt is used once a conversation is underway; the
// model already has the full rules in its history.
func buildMinimalSystemPrompt(publicResponse bool) string {
	if publicResponse {
		return minimalPrompt + "\n" + publicRoomContext
	}
	return minimalPrompt
}

// Messages matching these clearly need backend data; tool usage is forced
// rather than left to the model's judgement.
var (
	toolIntentKeywords = []string{
		"qui habite", "who lives", "résident", "resident",
		"acaf", "urgence", "emergency", "syndic",
		"numéro", "numero", "number", "téléphone", "telephone", "phone",
		"adresse", "address",
		"espace", "space", "réservation", "reservation", "disponible", "available",
		"info", "information", "description", "service",
	}

	apartmentPattern = regexp.MustCompile(`(appartement|apartment|étage|floor)[^\n]*\d+`)
)

// requiresToolCall reports whether a user message should force tool usage.
func requiresToolCall(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return false
	}
	for _, kw := range toolIntentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return apartmentPattern.MatchString(lower)
}

var willSearchMarkers = []string{
	"vais chercher",
	"vais vérifier",
	"vais verifier",
	"i'll search",
	"i will search",
	"chercher les informations",
	"searching for",
}

// announcesSearch detects a reply that promises to look something up
// instead of actually calling a tool.
func announcesSearch(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range willSearchMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
