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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/catalog"
	"github.com/AleutianAI/concierge/services/assistant/directory"
	"github.com/AleutianAI/concierge/services/assistant/dispatch"
	"github.com/AleutianAI/concierge/services/assistant/grounding"
	"github.com/AleutianAI/concierge/services/assistant/memory"
	"github.com/AleutianAI/concierge/services/llm"
)

type recordedCall struct {
	messages []llm.ChatMessage
	opts     llm.ChatOptions
	tools    []llm.ToolDef
}

// scriptedClient replays canned results in call order.
type scriptedClient struct {
	responses []*llm.ChatWithToolsResult
	errs      []error
	calls     []recordedCall
}

func (c *scriptedClient) ChatWithTools(_ context.Context, messages []llm.ChatMessage,
	opts llm.ChatOptions, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error) {

	i := len(c.calls)
	c.calls = append(c.calls, recordedCall{messages: messages, opts: opts, tools: tools})
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &llm.ChatWithToolsResult{Content: "unexpected extra call", StopReason: "end"}, nil
}

type stubDispatcher struct {
	invocations []string
	result      dispatch.Result
	err         error
}

func (d *stubDispatcher) Invoke(_ context.Context, name string, _ json.RawMessage,
	_ authctx.Context) (dispatch.Result, error) {
	d.invocations = append(d.invocations, name)
	return d.result, d.err
}

func (d *stubDispatcher) ModelDefs() []llm.ToolDef { return nil }

func textResponse(content string) *llm.ChatWithToolsResult {
	return &llm.ChatWithToolsResult{Content: content, StopReason: "end"}
}

func toolCallResponse(calls ...llm.ToolCallResponse) *llm.ChatWithToolsResult {
	return &llm.ChatWithToolsResult{ToolCalls: calls, StopReason: "tool_use"}
}

func newCall(id, name, args string) llm.ToolCallResponse {
	return llm.ToolCallResponse{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func directMessageCtx() authctx.Context {
	return authctx.Context{
		UserID:        "@marie_dupont:chat.example.org",
		RoomID:        "!dm:chat.example.org",
		DirectMessage: true,
		Account:       &directory.Account{ID: "u-1", Username: "marie_dupont"},
	}
}

func publicRoomCtx() authctx.Context {
	return authctx.Context{
		UserID: "@visitor:chat.example.org",
		RoomID: "!lobby:chat.example.org",
	}
}

func newTestOrchestrator(client ModelClient, disp ToolDispatcher) (*Orchestrator, *memory.Memory) {
	mem := memory.New(20)
	o := New(client, disp, mem, grounding.NewGuard())
	return o, mem
}

func TestRespond_DirectAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		textResponse("You can reach me here any time."),
	}}
	disp := &stubDispatcher{}
	o, mem := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "hello there")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "You can reach me here any time." {
		t.Errorf("reply = %q", reply)
	}
	if len(disp.invocations) != 0 {
		t.Errorf("dispatcher invoked %d times, want 0", len(disp.invocations))
	}

	history := mem.History("!dm:chat.example.org")
	if len(history) != 2 || history[0].Role != memory.RoleUser || history[1].Role != memory.RoleAssistant {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestRespond_FullPromptOnFirstTurnOnly(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		textResponse("first"), textResponse("second"),
	}}
	o, _ := newTestOrchestrator(client, &stubDispatcher{})

	if _, err := o.Respond(context.Background(), directMessageCtx(), "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Respond(context.Background(), directMessageCtx(), "and again"); err != nil {
		t.Fatal(err)
	}

	firstSystem := client.calls[0].messages[0].Content
	secondSystem := client.calls[1].messages[0].Content
	if !strings.Contains(firstSystem, "NEVER INVENT INFORMATION") {
		t.Error("first turn must use the full system prompt")
	}
	if strings.Contains(secondSystem, "NEVER INVENT INFORMATION") {
		t.Error("follow-up turns must use the minimal system prompt")
	}

	// Follow-up call carries the prior turns.
	msgs := client.calls[1].messages
	if len(msgs) != 4 || msgs[1].Content != "hello" || msgs[2].Content != "first" {
		t.Errorf("history not replayed: %+v", msgs)
	}
}

func TestRespond_PromptVariants(t *testing.T) {
	t.Run("public room warns about visibility", func(t *testing.T) {
		client := &scriptedClient{responses: []*llm.ChatWithToolsResult{textResponse("ok")}}
		o, _ := newTestOrchestrator(client, &stubDispatcher{})

		if _, err := o.Respond(context.Background(), publicRoomCtx(), "hi"); err != nil {
			t.Fatal(err)
		}
		system := client.calls[0].messages[0].Content
		if !strings.Contains(system, "public room") {
			t.Error("public context missing from system prompt")
		}
		if strings.Contains(system, "Reservation flow") {
			t.Error("reservation flow must not be taught to unauthenticated callers")
		}
	})

	t.Run("authenticated dm gets reservation flow", func(t *testing.T) {
		client := &scriptedClient{responses: []*llm.ChatWithToolsResult{textResponse("ok")}}
		o, _ := newTestOrchestrator(client, &stubDispatcher{})

		if _, err := o.Respond(context.Background(), directMessageCtx(), "hi"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(client.calls[0].messages[0].Content, "Reservation flow") {
			t.Error("reservation flow missing for authenticated caller")
		}
	})
}

func TestRespond_OneHopToolCall(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		toolCallResponse(
			newCall("call-1", "get_space_info", `{"spaceId":"laundry"}`),
			newCall("call-2", "list_spaces", `{}`),
		),
		textResponse("The laundry room is in the basement."),
	}}
	disp := &stubDispatcher{result: dispatch.TextResult("Laundry room: basement, 4 machines")}
	o, _ := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "where is the laundry?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "The laundry room is in the basement." {
		t.Errorf("reply = %q", reply)
	}

	// Only the first requested call may execute.
	if len(disp.invocations) != 1 || disp.invocations[0] != "get_space_info" {
		t.Errorf("invocations = %v, want [get_space_info]", disp.invocations)
	}

	// The follow-up call carries the assistant tool-call turn and the tool
	// result turn, and must not allow further tool use.
	second := client.calls[1]
	if second.opts.ToolChoice != llm.ToolChoiceNone {
		t.Errorf("second call tool_choice = %q, want %q", second.opts.ToolChoice, llm.ToolChoiceNone)
	}
	last := second.messages[len(second.messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" || last.ToolName != "get_space_info" {
		t.Errorf("tool turn malformed: %+v", last)
	}
	if last.Content != "Laundry room: basement, 4 machines" {
		t.Errorf("tool turn content = %q", last.Content)
	}
}

func TestRespond_SecondPassToolCallsIgnored(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		toolCallResponse(newCall("call-1", "list_spaces", `{}`)),
		{
			Content:    "Here are the spaces.",
			ToolCalls:  []llm.ToolCallResponse{newCall("call-9", "get_space_info", `{}`)},
			StopReason: "tool_use",
		},
	}}
	disp := &stubDispatcher{result: dispatch.TextResult("laundry, gym, roof terrace")}
	o, _ := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "what spaces exist?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Here are the spaces." {
		t.Errorf("reply = %q", reply)
	}
	if len(disp.invocations) != 1 {
		t.Errorf("dispatcher ran %d times, want 1", len(disp.invocations))
	}
}

func TestRespond_ToolChoiceForcedByIntent(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Quel est le numéro d'urgence ?", llm.ToolChoiceRequired},
		{"Is the gym available tomorrow?", llm.ToolChoiceRequired},
		{"thanks, have a nice day", llm.ToolChoiceAuto},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			client := &scriptedClient{responses: []*llm.ChatWithToolsResult{textResponse("ok")}}
			o, _ := newTestOrchestrator(client, &stubDispatcher{})

			if _, err := o.Respond(context.Background(), directMessageCtx(), tt.message); err != nil {
				t.Fatal(err)
			}
			if got := client.calls[0].opts.ToolChoice; got != tt.want {
				t.Errorf("tool_choice = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRespond_ForcedRetryWhenSearchAnnounced(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		textResponse("Je vais chercher les informations pour vous."),
		toolCallResponse(newCall("call-1", "get_emergency_numbers", `{}`)),
		textResponse("The emergency contact is ACAF at 01 23 45 67 89."),
	}}
	disp := &stubDispatcher{result: dispatch.TextResult("ACAF: 01 23 45 67 89")}
	o, _ := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "Quel est le numéro de l'ACAF ?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "The emergency contact is ACAF at 01 23 45 67 89." {
		t.Errorf("reply = %q", reply)
	}
	if len(client.calls) != 3 {
		t.Fatalf("model called %d times, want 3", len(client.calls))
	}
	if client.calls[1].opts.ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("retry tool_choice = %q, want %q", client.calls[1].opts.ToolChoice, llm.ToolChoiceRequired)
	}
}

func TestRespond_ModelErrorFirstCall(t *testing.T) {
	client := &scriptedClient{errs: []error{fmt.Errorf("connection refused")}}
	o, mem := newTestOrchestrator(client, &stubDispatcher{})

	reply, err := o.Respond(context.Background(), directMessageCtx(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != FirstCallApology {
		t.Errorf("reply = %q, want apology", reply)
	}
	// Only one attempt, never retried.
	if len(client.calls) != 1 {
		t.Errorf("model called %d times, want 1", len(client.calls))
	}
	if got := mem.History("!dm:chat.example.org")[1].Content; got != FirstCallApology {
		t.Errorf("apology not recorded in memory: %q", got)
	}
}

func TestRespond_ModelErrorFinalCall(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatWithToolsResult{
			toolCallResponse(newCall("call-1", "list_spaces", `{}`)),
		},
		errs: []error{nil, fmt.Errorf("timeout")},
	}
	disp := &stubDispatcher{result: dispatch.TextResult("laundry, gym")}
	o, _ := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "what spaces exist?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != FinalCallApology {
		t.Errorf("reply = %q, want final-call apology", reply)
	}
}

func TestRespond_UnauthorizedPropagates(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		toolCallResponse(newCall("call-1", "create_reservation", `{"spaceId":"gym"}`)),
	}}
	disp := &stubDispatcher{err: fmt.Errorf("dispatch: tool %q: %w", "create_reservation", authctx.ErrUnauthorized)}
	o, _ := newTestOrchestrator(client, disp)

	_, err := o.Respond(context.Background(), publicRoomCtx(), "réserve la salle de sport")
	if !errors.Is(err, authctx.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRespond_MalformedArgumentsSkipDispatcher(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		toolCallResponse(llm.ToolCallResponse{
			ID: "call-1", Name: "get_space_info", Arguments: json.RawMessage(`{"spaceId":`),
		}),
		textResponse("I could not look that up."),
	}}
	disp := &stubDispatcher{}
	o, _ := newTestOrchestrator(client, disp)

	reply, err := o.Respond(context.Background(), directMessageCtx(), "where is the laundry?")
	if err != nil {
		t.Fatal(err)
	}
	if len(disp.invocations) != 0 {
		t.Error("dispatcher must not run on malformed arguments")
	}
	if reply != "I could not look that up." {
		t.Errorf("reply = %q", reply)
	}

	toolTurn := client.calls[1].messages[len(client.calls[1].messages)-1]
	if !strings.Contains(toolTurn.Content, "malformed arguments") {
		t.Errorf("tool turn = %q, want malformed-arguments text", toolTurn.Content)
	}
}

func TestRespond_EmptyFinalReply(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{textResponse("   ")}}
	o, _ := newTestOrchestrator(client, &stubDispatcher{})

	reply, err := o.Respond(context.Background(), directMessageCtx(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != EmptyReplyNotice {
		t.Errorf("reply = %q, want %q", reply, EmptyReplyNotice)
	}
}

func TestRespond_GroundingFallbackOnInventedFact(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		textResponse("The office is at 12 rue de la Paix, 75001 Paris."),
	}}
	o, _ := newTestOrchestrator(client, &stubDispatcher{})

	reply, err := o.Respond(context.Background(), directMessageCtx(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != grounding.DefaultFallback {
		t.Errorf("reply = %q, want grounding fallback", reply)
	}
}

func TestRespond_RetrievalContextInPromptAndEvidence(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		textResponse("L'adresse du bureau est 12 rue de la Paix."),
	}}
	retriever := staticRetriever("Adresse du bureau : 12 rue de la Paix, Paris")
	mem := memory.New(20)
	o := New(client, &stubDispatcher{}, mem, grounding.NewGuard(), WithRetriever(retriever))

	reply, err := o.Respond(context.Background(), directMessageCtx(), "quelle est l'adresse du bureau ?")
	if err != nil {
		t.Fatal(err)
	}
	// The documented address is grounded by retrieval evidence.
	if reply != "L'adresse du bureau est 12 rue de la Paix." {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(client.calls[0].messages[0].Content, "Documentation context:") {
		t.Error("retrieval context missing from system prompt")
	}
}

type staticRetriever string

func (r staticRetriever) Search(string) string { return string(r) }

// End-to-end turn through a real catalog and dispatcher.
func TestRespond_EmergencyNumberEndToEnd(t *testing.T) {
	cat, err := catalog.New([]catalog.Descriptor{
		{
			Name:        "get_emergency_numbers",
			Description: "Returns the emergency contact numbers for the residence.",
			InputSchema: llm.ToolParameters{Type: "object", Properties: map[string]llm.ToolParamDef{}},
		},
		{
			Name:         "create_reservation",
			Description:  "Books a shared space for the caller.",
			RequiresAuth: true,
			InputSchema: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"spaceId": {Type: "string", Description: "Space identifier"},
				},
				Required: []string{"spaceId"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	disp := dispatch.New(cat)
	err = disp.Register("get_emergency_numbers", func(context.Context, json.RawMessage, authctx.Context) (dispatch.Result, error) {
		return dispatch.TextResult("ACAF: 01 23 45 67 89"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("grounded phone number survives review", func(t *testing.T) {
		client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
			toolCallResponse(newCall("call-1", "get_emergency_numbers", `{}`)),
			textResponse("The emergency contact is ACAF at 01 23 45 67 89."),
		}}
		mem := memory.New(20)
		o := New(client, disp, mem, grounding.NewGuard())

		reply, err := o.Respond(context.Background(), publicRoomCtx(), "Quel est le numéro d'urgence ?")
		if err != nil {
			t.Fatal(err)
		}
		if reply != "The emergency contact is ACAF at 01 23 45 67 89." {
			t.Errorf("reply = %q", reply)
		}
	})

	t.Run("unauthenticated reservation surfaces unauthorized", func(t *testing.T) {
		client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
			toolCallResponse(newCall("call-1", "create_reservation", `{"spaceId":"gym"}`)),
		}}
		mem := memory.New(20)
		o := New(client, disp, mem, grounding.NewGuard())

		_, err := o.Respond(context.Background(), publicRoomCtx(), "réserve la salle de sport demain")
		if !errors.Is(err, authctx.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestTruncate_KeepsRunesIntact(t *testing.T) {
	s := strings.Repeat("à", 520)

	got := truncate(s, 500)

	if !utf8.ValidString(got) {
		t.Fatal("truncated string is not valid UTF-8")
	}
	if want := strings.Repeat("à", 500) + "..."; got != want {
		t.Errorf("truncate cut at %d runes, want 500", strings.Count(got, "à"))
	}
}
