// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch routes tool invocations to registered handlers under the
// authorization policy and wraps every outcome in a uniform result envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/catalog"
	"github.com/AleutianAI/concierge/services/llm"
)

const (
	// defaultToolTimeout bounds a single handler execution.
	defaultToolTimeout = 10 * time.Second

	// Audit log truncation limits.
	maxLoggedArgs   = 200
	maxLoggedResult = 500
)

// Handler executes one tool. Handlers may return an error or panic; the
// dispatcher absorbs both into a soft Result. The one thing a handler must
// not do is assume it runs with authorization the dispatcher did not verify.
type Handler func(ctx context.Context, args json.RawMessage, auth authctx.Context) (Result, error)

// Dispatcher routes tool calls by name.
//
// Description:
//
//	Invoke resolves the name against the catalog, enforces the
//	requiresAuth policy BEFORE the handler runs, executes the handler
//	under a timeout, and converts every handler failure into a soft
//	Result so tool execution can never crash the orchestration loop.
//	Only authctx.ErrUnauthorized propagates as a real error.
//
// Thread Safety: Register must complete before concurrent Invoke calls
// begin (wiring happens at startup). Invoke is safe for concurrent use.
type Dispatcher struct {
	catalog  *catalog.Catalog
	handlers map[string]Handler
	timeout  time.Duration
	tracer   oteltrace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithToolTimeout overrides the per-invocation handler timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// New creates a Dispatcher over the given catalog.
func New(cat *catalog.Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:  cat,
		handlers: make(map[string]Handler),
		timeout:  defaultToolTimeout,
		tracer:   otel.Tracer("concierge/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to a catalog entry.
//
// Outputs:
//   - error: Non-nil when the name is not in the catalog or already bound.
func (d *Dispatcher) Register(name string, h Handler) error {
	if _, err := d.catalog.Describe(name); err != nil {
		return fmt.Errorf("dispatch: registering handler: %w", err)
	}
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("dispatch: handler for %q already registered", name)
	}
	d.handlers[name] = h
	return nil
}

// ModelDefs exposes the catalog in provider format. Convenience passthrough
// so the orchestrator needs only the dispatcher.
func (d *Dispatcher) ModelDefs() []llm.ToolDef {
	return d.catalog.ModelDefs()
}

// Invoke executes one tool call.
//
// Description:
//
//	Outcome mapping:
//	  - unknown tool          → Result{IsError:true}, nil error
//	  - requiresAuth, no auth → zero Result, authctx.ErrUnauthorized
//	  - handler error/panic   → Result{IsError:true}, nil error
//	  - success               → handler's Result, nil error
//	The auth check runs before the handler; a gated handler is never
//	entered with an unauthenticated context.
//
// Inputs:
//   - ctx: Caller context; a per-call timeout is layered on top.
//   - name: Tool name as requested by the model.
//   - args: Raw JSON arguments from the model. May be empty.
//   - auth: The caller's authorization context.
//
// Outputs:
//   - Result: The uniform result envelope.
//   - error: authctx.ErrUnauthorized only; everything else is soft.
//
// Thread Safety: Safe for concurrent use.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage, auth authctx.Context) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Invoke",
		oteltrace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.Bool("auth.authenticated", auth.Authenticated()),
		))
	defer span.End()

	descriptor, err := d.catalog.Describe(name)
	if err != nil {
		toolInvocations.WithLabelValues(name, outcomeUnknown).Inc()
		d.audit(name, args, auth, outcomeUnknown, "")
		return ErrorResult("unknown tool %q", name), nil
	}

	if descriptor.RequiresAuth && !auth.Authenticated() {
		toolInvocations.WithLabelValues(name, outcomeUnauthorized).Inc()
		span.SetStatus(codes.Error, "unauthorized")
		d.audit(name, args, auth, outcomeUnauthorized, "")
		return Result{}, fmt.Errorf("dispatch: tool %q: %w", name, authctx.ErrUnauthorized)
	}

	handler, ok := d.handlers[name]
	if !ok {
		// Catalog entry without a wired handler is a deployment gap, not a
		// caller mistake. Still soft: the model gets a usable error text.
		toolInvocations.WithLabelValues(name, outcomeError).Inc()
		d.audit(name, args, auth, outcomeError, "no handler registered")
		return ErrorResult("tool %q has no registered handler", name), nil
	}

	result := d.execute(ctx, name, handler, args, auth)

	outcome := outcomeSuccess
	if result.IsError {
		outcome = outcomeError
		span.SetStatus(codes.Error, "tool returned error result")
	}
	toolInvocations.WithLabelValues(name, outcome).Inc()
	d.audit(name, args, auth, outcome, result.JoinedText())

	return result, nil
}

// execute runs the handler with panic recovery and the per-call timeout.
func (d *Dispatcher) execute(ctx context.Context, name string, handler Handler,
	args json.RawMessage, auth authctx.Context) (result Result) {

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool handler panicked",
				slog.String("tool", name),
				slog.Any("panic", r),
			)
			toolInvocations.WithLabelValues(name, outcomePanic).Inc()
			result = ErrorResult("tool %q failed: internal error", name)
		}
	}()

	start := time.Now()
	res, err := handler(ctx, args, auth)
	toolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		return ErrorResult("tool %q failed: %s", name, err.Error())
	}
	return res
}

// audit writes the per-invocation audit line. Arguments and results are
// truncated; no PII beyond what the auth context already carries.
func (d *Dispatcher) audit(name string, args json.RawMessage, auth authctx.Context, outcome, result string) {
	slog.Info("Tool invocation",
		slog.String("tool", name),
		slog.String("caller", auth.UserID),
		slog.String("room", auth.RoomID),
		slog.Bool("authenticated", auth.Authenticated()),
		slog.String("outcome", outcome),
		slog.String("args", llm.SafeLogString(truncate(string(args), maxLoggedArgs))),
		slog.String("result", llm.SafeLogString(truncate(result, maxLoggedResult))),
	)
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "...(truncated)"
}
