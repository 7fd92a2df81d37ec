// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestReview_AddressWithEmptyEvidence(t *testing.T) {
	g := NewGuard()

	answer := "The office is at 12 rue de la Paix, 75001 Paris."
	got, replaced := g.Review(answer, "")

	if !replaced {
		t.Fatal("expected replacement for ungrounded address")
	}
	if got != DefaultFallback {
		t.Errorf("Review = %q, want fallback %q", got, DefaultFallback)
	}
}

func TestReview_AddressWithKeywordEvidence(t *testing.T) {
	g := NewGuard()

	answer := "The office is at 12 rue de la Paix, 75001 Paris."
	evidence := "Voici l'adresse du bureau : 12 rue de la Paix, 75001 Paris"
	got, replaced := g.Review(answer, evidence)

	if replaced {
		t.Fatalf("expected pass-through, got %q", got)
	}
	if got != answer {
		t.Errorf("answer was modified: %q", got)
	}
}

func TestReview_PhoneGroundedByVerbatimMatch(t *testing.T) {
	g := NewGuard()

	// The tool result carries the number itself but no "téléphone" keyword.
	answer := "The emergency contact is ACAF at 01 23 45 67 89."
	evidence := "ACAF: 01 23 45 67 89"
	got, replaced := g.Review(answer, evidence)

	if replaced {
		t.Fatalf("verbatim evidence must ground the number, got %q", got)
	}
	if got != answer {
		t.Errorf("answer was modified: %q", got)
	}
}

func TestReview_PhoneWithoutEvidence(t *testing.T) {
	g := NewGuard()

	got, replaced := g.Review("Call the syndic at 01 98 76 54 32.", "The syndic handles building issues.")

	if !replaced {
		t.Fatal("expected replacement for invented phone number")
	}
	if got != DefaultFallback {
		t.Errorf("Review = %q, want %q", got, DefaultFallback)
	}
}

func TestReview_CompactPhoneWithoutEvidence(t *testing.T) {
	g := NewGuard()

	// Numbers written without separators must fire too.
	got, replaced := g.Review("Vous pouvez joindre le gardien au 0612345678.", "")

	if !replaced {
		t.Fatal("expected replacement for invented compact phone number")
	}
	if got != DefaultFallback {
		t.Errorf("Review = %q, want %q", got, DefaultFallback)
	}
}

func TestReview_CompactPhoneGroundedByVerbatimMatch(t *testing.T) {
	g := NewGuard()

	answer := "Vous pouvez joindre le gardien au 0612345678."
	got, replaced := g.Review(answer, "Gardien: 0612345678")

	if replaced {
		t.Fatalf("verbatim evidence must ground the number, got %q", got)
	}
	if got != answer {
		t.Errorf("answer was modified: %q", got)
	}
}

func TestReview_HoursUseDedicatedFallback(t *testing.T) {
	g := NewGuard()

	got, replaced := g.Review("The gym is open lundi from 8h to 20h.", "")

	if !replaced {
		t.Fatal("expected replacement for invented hours")
	}
	if got != DefaultHoursFallback {
		t.Errorf("Review = %q, want %q", got, DefaultHoursFallback)
	}
}

func TestReview_HoursGroundedByKeyword(t *testing.T) {
	g := NewGuard()

	answer := "The gym is open lundi from 8h to 20h."
	evidence := "Horaires de la salle de sport : lundi 8h-20h"
	got, replaced := g.Review(answer, evidence)

	if replaced {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestReview_PlainAnswerPassesThrough(t *testing.T) {
	g := NewGuard()

	answer := "You can book shared spaces through me in a direct message."
	got, replaced := g.Review(answer, "")

	if replaced || got != answer {
		t.Errorf("plain answer must pass untouched, got %q (replaced=%v)", got, replaced)
	}
}

func TestReview_BarePostalCodeDoesNotTrigger(t *testing.T) {
	g := NewGuard()

	// A lone 5-digit number is too common to reject without a street or
	// phone pattern alongside it.
	answer := "Your reservation code is 48213."
	got, replaced := g.Review(answer, "")

	if replaced {
		t.Errorf("bare postal-code pattern must not trigger alone, got %q", got)
	}
}

func TestReview_GenericOutranksHoursFallback(t *testing.T) {
	g := NewGuard()

	answer := "Visit us at 3 avenue Victor, open lundi at 9h."
	got, replaced := g.Review(answer, "")

	if !replaced {
		t.Fatal("expected replacement")
	}
	if got != DefaultFallback {
		t.Errorf("mixed violations must use the generic fallback, got %q", got)
	}
}

func TestReview_CustomCategories(t *testing.T) {
	g := NewGuard(
		WithCategories([]Category{{
			Name:     "iban",
			Patterns: []*regexp.Regexp{regexp.MustCompile(`fr\d{2}[\s\d]{10,}`)},
			Keywords: []string{"iban"},
		}}),
		WithFallback("No payment details on file."),
	)

	got, replaced := g.Review("Wire to FR76 3000 6000 0112 3456 7890 189", "")
	if !replaced || got != "No payment details on file." {
		t.Errorf("custom category not honored: %q (replaced=%v)", got, replaced)
	}

	// Default categories were replaced, so an address no longer fires.
	_, replaced = g.Review("We are at 12 rue de la Paix.", "")
	if replaced {
		t.Error("replaced table must drop default categories")
	}
}

func TestTruncate_KeepsRunesIntact(t *testing.T) {
	s := strings.Repeat("é", 600)

	got := truncate(s, 500)

	if !utf8.ValidString(got) {
		t.Fatal("truncated string is not valid UTF-8")
	}
	if want := strings.Repeat("é", 500) + "...(truncated)"; got != want {
		t.Errorf("truncate cut at %d runes, want 500", strings.Count(got, "é"))
	}
}
