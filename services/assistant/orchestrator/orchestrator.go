// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the model→tool→model loop for one inbound chat
// message and applies the grounding check to the candidate answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/dispatch"
	"github.com/AleutianAI/concierge/services/assistant/grounding"
	"github.com/AleutianAI/concierge/services/assistant/memory"
	"github.com/AleutianAI/concierge/services/llm"
)

// Fixed user-facing strings for the failure paths. Model calls are never
// retried on error; a failed chat turn is reported, not doubled in latency
// and cost.
const (
	FirstCallApology = "Sorry, an error occurred while generating the response."
	FinalCallApology = "Sorry, an error occurred while generating the final response."
	EmptyReplyNotice = "Je n'ai pas pu générer de réponse. Pouvez-vous reformuler votre question ?"
)

const defaultModelTimeout = 30 * time.Second

// ModelClient is the provider surface the orchestrator needs. Satisfied by
// llm.MistralClient.
type ModelClient interface {
	ChatWithTools(ctx context.Context, messages []llm.ChatMessage,
		opts llm.ChatOptions, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error)
}

// ToolDispatcher routes model-requested tool calls to their handlers.
// Satisfied by dispatch.Dispatcher.
type ToolDispatcher interface {
	Invoke(ctx context.Context, name string, args json.RawMessage,
		auth authctx.Context) (dispatch.Result, error)
	ModelDefs() []llm.ToolDef
}

// Retriever supplies documentation context for a query. Satisfied by
// retrieval.Store.
type Retriever interface {
	Search(query string) string
}

// Orchestrator drives one conversation turn end to end.
//
// Description:
//
//	One-hop protocol: the model may request tools, but only the FIRST
//	requested call is executed; its result is fed back for a final
//	text-only completion, and any tool calls in that second response are
//	ignored. This bounds the latency and cost of a turn to two model
//	calls and one tool call.
//
// Thread Safety: Safe for concurrent use across rooms; ConversationMemory
// is the only shared mutable state and serializes its own access.
type Orchestrator struct {
	client       ModelClient
	dispatcher   ToolDispatcher
	retriever    Retriever
	memory       *memory.Memory
	guard        *grounding.Guard
	modelTimeout time.Duration
	tracer       trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModelTimeout bounds each individual model call.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.modelTimeout = d
		}
	}
}

// WithRetriever attaches a documentation store; without one, turns run on
// tool evidence alone.
func WithRetriever(r Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// New creates an Orchestrator.
func New(client ModelClient, dispatcher ToolDispatcher, mem *memory.Memory,
	guard *grounding.Guard, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		dispatcher:   dispatcher,
		memory:       mem,
		guard:        guard,
		modelTimeout: defaultModelTimeout,
		tracer:       otel.Tracer("concierge/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Respond handles one inbound user message and returns the reply to send.
//
// Inputs:
//   - ctx: Request context; model and tool calls get per-call deadlines
//     derived from it.
//   - auth: Caller identity and channel visibility for this message.
//   - message: The user's message text.
//
// Outputs:
//   - string: The reply. Failure paths return fixed apology strings rather
//     than errors.
//   - error: Non-nil only for authctx.ErrUnauthorized, which the transport
//     maps to a policy response. Everything else is absorbed here.
func (o *Orchestrator) Respond(ctx context.Context, auth authctx.Context, message string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.respond", trace.WithAttributes(
		attribute.String("room.id", auth.RoomID),
		attribute.Bool("auth.authenticated", auth.Authenticated()),
	))
	defer span.End()

	history := o.memory.History(auth.RoomID)
	o.memory.Append(auth.RoomID, memory.Turn{Role: memory.RoleUser, Content: message})

	slog.Info("Handling chat turn",
		slog.String("room", auth.RoomID),
		slog.String("user", auth.UserID),
		slog.String("trace_id", o.memory.TraceID(auth.RoomID)),
		slog.Int("history_turns", len(history)),
		slog.String("message", truncate(message, 200)),
	)

	var retrievalContext string
	if o.retriever != nil {
		retrievalContext = o.retriever.Search(message)
	}

	messages := o.buildMessages(auth, history, message, retrievalContext)
	tools := o.dispatcher.ModelDefs()

	opts := llm.ChatOptions{ToolChoice: llm.ToolChoiceAuto}
	if requiresToolCall(message) {
		opts.ToolChoice = llm.ToolChoiceRequired
		slog.Debug("Forcing tool usage for message", slog.String("message", truncate(message, 100)))
	}

	first, err := o.callModel(ctx, "first", messages, opts, tools)
	if err != nil {
		return o.finish(auth.RoomID, FirstCallApology, turnOutcomeModelError), nil
	}

	// A reply that promises to search without calling a tool is worthless;
	// retry once with tool usage forced.
	if len(first.ToolCalls) == 0 && announcesSearch(first.Content) && requiresToolCall(message) {
		slog.Warn("Reply announced a search without a tool call, forcing retry",
			slog.String("room", auth.RoomID),
			slog.String("content", truncate(first.Content, 200)),
		)
		first, err = o.callModel(ctx, "forced_retry", messages, llm.ChatOptions{
			ToolChoice: llm.ToolChoiceRequired,
		}, tools)
		if err != nil {
			return o.finish(auth.RoomID, FirstCallApology, turnOutcomeModelError), nil
		}
	}

	candidate := first.Content
	toolEvidence := ""

	if len(first.ToolCalls) > 0 {
		call := first.ToolCalls[0]
		if len(first.ToolCalls) > 1 {
			slog.Debug("Ignoring extra tool calls",
				slog.Int("requested", len(first.ToolCalls)),
				slog.String("executed", call.Name),
			)
		}

		toolText, err := o.runToolCall(ctx, call, auth)
		if err != nil {
			turnsTotal.WithLabelValues(turnOutcomeUnauthorized).Inc()
			span.RecordError(err)
			return "", err
		}
		toolEvidence = toolText

		followUp := append(messages,
			llm.ChatMessage{
				Role:      "assistant",
				Content:   first.Content,
				ToolCalls: []llm.ToolCallResponse{call},
			},
			llm.ChatMessage{
				Role:       "tool",
				Content:    toolText,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			},
		)

		second, err := o.callModel(ctx, "final", followUp, llm.ChatOptions{
			ToolChoice: llm.ToolChoiceNone,
		}, tools)
		if err != nil {
			return o.finish(auth.RoomID, FinalCallApology, turnOutcomeModelError), nil
		}
		if len(second.ToolCalls) > 0 {
			slog.Debug("Ignoring tool calls in final response",
				slog.Int("count", len(second.ToolCalls)),
			)
		}
		candidate = second.Content
	}

	if strings.TrimSpace(candidate) == "" {
		slog.Warn("Model returned an empty reply", slog.String("room", auth.RoomID))
		return o.finish(auth.RoomID, EmptyReplyNotice, turnOutcomeEmpty), nil
	}

	evidence := strings.TrimSpace(toolEvidence + "\n" + retrievalContext)
	reply, replaced := o.guard.Review(candidate, evidence)

	outcome := turnOutcomeAnswered
	if replaced {
		outcome = turnOutcomeGrounding
	}
	return o.finish(auth.RoomID, reply, outcome), nil
}

// buildMessages assembles the provider message list for the first call.
func (o *Orchestrator) buildMessages(auth authctx.Context, history []memory.Turn,
	message, retrievalContext string) []llm.ChatMessage {

	var system string
	if len(history) == 0 {
		system = buildSystemPrompt(auth.PublicResponse(), auth.Authenticated())
	} else {
		system = buildMinimalSystemPrompt(auth.PublicResponse())
	}
	if retrievalContext != "" {
		system += "\n\nDocumentation context:\n" + retrievalContext
	}

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: system})
	for _, turn := range history {
		// Tool turns need their originating assistant tool-call message to
		// be valid provider input, so only plain turns are replayed.
		if turn.Role != memory.RoleUser && turn.Role != memory.RoleAssistant {
			continue
		}
		messages = append(messages, llm.ChatMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return append(messages, llm.ChatMessage{Role: "user", Content: message})
}

// callModel runs one provider call under the per-call timeout.
func (o *Orchestrator) callModel(ctx context.Context, position string,
	messages []llm.ChatMessage, opts llm.ChatOptions, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error) {

	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.client.ChatWithTools(callCtx, messages, opts, tools)
	modelCallDuration.WithLabelValues(position).Observe(time.Since(start).Seconds())

	if err != nil {
		slog.Error("Model call failed",
			slog.String("call", position),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return nil, err
	}
	return result, nil
}

// runToolCall executes the first requested tool call and returns its text.
// Only authctx.ErrUnauthorized propagates; every other failure comes back
// as soft error text for the model to relay.
func (o *Orchestrator) runToolCall(ctx context.Context, call llm.ToolCallResponse,
	auth authctx.Context) (string, error) {

	args := json.RawMessage(call.ArgumentsString())
	if !json.Valid(args) {
		slog.Warn("Model supplied malformed tool arguments",
			slog.String("tool", call.Name),
			slog.String("arguments", truncate(call.ArgumentsString(), 200)),
		)
		return fmt.Sprintf("Error: tool %q received malformed arguments", call.Name), nil
	}

	result, err := o.dispatcher.Invoke(ctx, call.Name, args, auth)
	if err != nil {
		if errors.Is(err, authctx.ErrUnauthorized) {
			return "", err
		}
		return fmt.Sprintf("Error: %s", err.Error()), nil
	}
	return result.JoinedText(), nil
}

// finish records the reply in memory and counts the turn.
func (o *Orchestrator) finish(roomID, reply, outcome string) string {
	o.memory.Append(roomID, memory.Turn{Role: memory.RoleAssistant, Content: reply})
	turnsTotal.WithLabelValues(outcome).Inc()
	slog.Info("Chat turn complete",
		slog.String("room", roomID),
		slog.String("outcome", outcome),
		slog.String("reply", truncate(reply, 500)),
	)
	return reply
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
