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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	turnOutcomeAnswered     = "answered"
	turnOutcomeModelError   = "model_error"
	turnOutcomeUnauthorized = "unauthorized"
	turnOutcomeGrounding    = "grounding_fallback"
	turnOutcomeEmpty        = "empty_reply"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "orchestrator",
		Name:      "turns_total",
		Help:      "Completed conversation turns by outcome.",
	}, []string{"outcome"})

	modelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "orchestrator",
		Name:      "model_call_duration_seconds",
		Help:      "Latency of provider chat-completion calls by position in the turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})
)
