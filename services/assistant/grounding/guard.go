// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding post-processes model answers so the assistant never
// asserts a specific fact (address, phone number, opening hours) that is
// absent from the evidence gathered for the turn.
package grounding

import (
	"log/slog"
	"regexp"
	"strings"
)

// Fixed replacement strings. Whole-answer substitution is deliberate:
// a partially rewritten answer would read as authoritative while hiding
// which half was invented.
const (
	DefaultFallback      = "I don't have this information available in my data."
	DefaultHoursFallback = "I don't have opening hours available in my data."
)

// Category is one class of fact-bearing pattern the guard screens for.
//
// Description:
//
//	A category fires when any of its Patterns matches the candidate
//	answer. A firing category is grounded when the evidence contains one
//	of its Keywords, or when every matched fragment appears verbatim in
//	the evidence. Categories are configuration, not code: callers may
//	extend or replace the default table.
type Category struct {
	// Name labels the category in logs and metrics.
	Name string

	// Patterns match fact-like fragments in the (lowercased) answer.
	Patterns []*regexp.Regexp

	// Keywords are evidence markers that ground the category.
	Keywords []string

	// Corroborating categories never trigger a violation on their own;
	// they only count when a primary category fired too. Bare 5-digit
	// numbers are too common to reject in isolation.
	Corroborating bool

	// Fallback overrides the guard-level fallback for this category.
	Fallback string
}

// DefaultCategories returns the standard pattern table: street addresses,
// French phone numbers, postal codes, opening hours.
func DefaultCategories() []Category {
	return []Category{
		{
			Name: "address",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\d+\s+(rue|avenue|boulevard|place|chemin|all[ée]e)\b`),
				regexp.MustCompile(`\d{5}\s+paris`),
				regexp.MustCompile(`adresse[^\n]*\d+`),
			},
			Keywords: []string{"adresse", "address"},
		},
		{
			Name: "phone",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\+33\s?[1-9](?:[\s.]?\d{2}){4}`),
				regexp.MustCompile(`\b0[1-9](?:[\s.]?\d{2}){4}\b`),
			},
			Keywords: []string{"téléphone", "telephone", "phone", "numéro", "numero"},
		},
		{
			Name: "postal_code",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{5}\b`),
			},
			Keywords:      []string{"adresse", "address", "code postal"},
			Corroborating: true,
		},
		{
			Name: "hours",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(lundi|mardi|mercredi|jeudi|vendredi|samedi|dimanche|monday|tuesday|wednesday|thursday|friday|saturday|sunday)[^\n]{0,40}?\d{1,2}h(\d{2})?`),
				regexp.MustCompile(`\d{1,2}h\d{2}[^\n]{0,25}\d{1,2}h\d{2}`),
			},
			Keywords: []string{"horaire", "ouverture", "hours", "opening"},
			Fallback: DefaultHoursFallback,
		},
	}
}

// Guard screens candidate answers against turn evidence.
//
// Description:
//
//	Detection is pattern-based, not semantic, and deliberately
//	conservative: a correct answer may be discarded, a fabricated fact
//	must not pass. Treat it as a last-resort safety net behind the
//	system prompt, not a substitute for it. Both verdicts are logged so
//	the pattern table can be tuned offline.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Guard struct {
	categories []Category
	fallback   string
}

// Option configures a Guard.
type Option func(*Guard)

// WithCategories replaces the default pattern table.
func WithCategories(categories []Category) Option {
	return func(g *Guard) { g.categories = categories }
}

// WithFallback overrides the guard-level replacement string.
func WithFallback(fallback string) Option {
	return func(g *Guard) { g.fallback = fallback }
}

// NewGuard creates a Guard with the default table unless overridden.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		categories: DefaultCategories(),
		fallback:   DefaultFallback,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Review checks a candidate answer against the evidence for this turn.
//
// Description:
//
//	Evidence is the concatenation of tool result text and retrieval
//	context. A firing category is grounded when the evidence carries one
//	of its keywords OR every fragment the category matched appears
//	verbatim in the evidence (a tool that returned the exact phone
//	number grounds that number without needing the word "téléphone").
//	Any ungrounded category replaces the whole answer with the fixed
//	fallback.
//
// Inputs:
//   - answer: Candidate model answer.
//   - evidence: Supporting text gathered this turn. May be empty.
//
// Outputs:
//   - string: The answer, or the fallback when a violation was detected.
//   - bool: True when the answer was replaced.
//
// Thread Safety: Safe for concurrent use.
func (g *Guard) Review(answer, evidence string) (string, bool) {
	lowerAnswer := strings.ToLower(answer)
	lowerEvidence := strings.ToLower(evidence)

	type firing struct {
		category Category
		grounded bool
	}

	var firings []firing
	primaryFired := false

	for _, cat := range g.categories {
		matches := collectMatches(cat.Patterns, lowerAnswer)
		if len(matches) == 0 {
			continue
		}
		if !cat.Corroborating {
			primaryFired = true
		}
		firings = append(firings, firing{
			category: cat,
			grounded: isGrounded(cat, matches, lowerEvidence),
		})
		groundingChecks.WithLabelValues(cat.Name).Inc()
	}

	fallback := ""
	for _, f := range firings {
		if f.grounded {
			continue
		}
		if f.category.Corroborating && !primaryFired {
			continue
		}
		groundingViolations.WithLabelValues(f.category.Name).Inc()
		slog.Warn("Grounding violation detected",
			slog.String("category", f.category.Name),
			slog.String("rejected_answer", truncate(answer, 500)),
			slog.Int("evidence_length", len(evidence)),
			slog.String("evidence", truncate(evidence, 500)),
		)
		if fallback == "" {
			fallback = g.fallback
			if f.category.Fallback != "" {
				fallback = f.category.Fallback
			}
		} else if f.category.Fallback == "" {
			// A generic violation outranks a category-specific fallback.
			fallback = g.fallback
		}
	}

	if fallback != "" {
		return fallback, true
	}

	if len(firings) > 0 {
		slog.Debug("Grounding check passed",
			slog.Int("categories_fired", len(firings)),
		)
	}
	return answer, false
}

// collectMatches gathers the distinct fragments the patterns matched.
func collectMatches(patterns []*regexp.Regexp, text string) []string {
	var matches []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		for _, m := range p.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				matches = append(matches, m)
			}
		}
	}
	return matches
}

// isGrounded reports whether the evidence supports a firing category.
func isGrounded(cat Category, matches []string, lowerEvidence string) bool {
	if lowerEvidence == "" {
		return false
	}
	for _, kw := range cat.Keywords {
		if strings.Contains(lowerEvidence, kw) {
			return true
		}
	}
	for _, m := range matches {
		if !strings.Contains(lowerEvidence, m) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "...(truncated)"
}
