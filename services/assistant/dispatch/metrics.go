// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcomes recorded per tool.
const (
	outcomeSuccess      = "success"
	outcomeError        = "error"
	outcomeUnknown      = "unknown_tool"
	outcomeUnauthorized = "unauthorized"
	outcomePanic        = "panic"
)

var (
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "dispatch",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "dispatch",
		Name:      "tool_duration_seconds",
		Help:      "Tool handler execution time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)
