// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	mistralDefaultBaseURL = "https://api.mistral.ai/v1"
	mistralDefaultModel   = "mistral-small-latest"

	// Defaults match the assistant's production tuning: conversational
	// temperature, bounded answer length.
	mistralDefaultTemperature float32 = 0.7
	mistralDefaultMaxTokens           = 1000
)

type mistralRequest struct {
	Model       string           `json:"model"`
	Messages    []mistralMessage `json:"messages"`
	Tools       []mistralTool    `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

type mistralMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []mistralToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

type mistralTool struct {
	Type     string          `json:"type"`
	Function mistralFunction `json:"function"`
}

type mistralFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type mistralToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function mistralCallFunction `json:"function"`
}

type mistralCallFunction struct {
	Name string `json:"name"`
	// Arguments is a JSON-encoded string, per the OpenAI-compatible wire format.
	Arguments string `json:"arguments"`
}

type mistralResponse struct {
	ID      string          `json:"id"`
	Choices []mistralChoice `json:"choices"`
	Error   *mistralError   `json:"error,omitempty"`
}

type mistralChoice struct {
	Index        int            `json:"index"`
	Message      mistralMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type mistralError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

// MistralClient talks to the Mistral chat-completions API with tool calling.
//
// Description:
//
//	Hand-rolled HTTP client for POST {base}/chat/completions with Bearer
//	authentication. Implements ChatClient. An optional token-bucket rate
//	limiter throttles outbound calls so a burst of chat traffic cannot
//	exhaust the provider quota.
//
// Thread Safety: Safe for concurrent use after construction.
type MistralClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	limiter    *rate.Limiter
}

// MistralOption configures a MistralClient.
type MistralOption func(*MistralClient)

// WithRateLimit throttles outbound calls to perMinute requests per minute.
// Values <= 0 disable throttling.
func WithRateLimit(perMinute int) MistralOption {
	return func(c *MistralClient) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// WithHTTPTimeout overrides the default 60s transport timeout. Per-call
// deadlines still come from the request context.
func WithHTTPTimeout(d time.Duration) MistralOption {
	return func(c *MistralClient) {
		c.httpClient.Timeout = d
	}
}

// NewMistralClientWithConfig creates a MistralClient with explicit configuration.
//
// Description:
//
//	Creates a MistralClient without reading environment variables. Useful
//	for testing with mock servers or when configuration comes from a source
//	other than environment variables.
//
// Inputs:
//   - apiKey: The Mistral API key.
//   - model: The model name (e.g., "mistral-small-latest").
//   - baseURL: The base URL for API requests (without /chat/completions).
//
// Outputs:
//   - *MistralClient: The configured client.
func NewMistralClientWithConfig(apiKey, model, baseURL string, opts ...MistralOption) *MistralClient {
	c := &MistralClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewMistralClient creates a MistralClient from the environment.
//
// Description:
//
//	Reads MISTRAL_API_KEY (falling back to the container secret at
//	/run/secrets/mistral_api_key) and MISTRAL_MODEL. Fails when no key
//	is available; defaults the model when unset.
//
// Outputs:
//   - *MistralClient: The configured client.
//   - error: Non-nil when the API key cannot be found.
func NewMistralClient(opts ...MistralOption) (*MistralClient, error) {
	apiKey := os.Getenv("MISTRAL_API_KEY")
	model := os.Getenv("MISTRAL_MODEL")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/mistral_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Mistral API Key from container secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("Mistral API Key is missing.")
		return nil, fmt.Errorf("mistral: API key is missing (MISTRAL_API_KEY)")
	}

	if model == "" {
		model = mistralDefaultModel
		slog.Info("MISTRAL_MODEL not set, defaulting to", "model", model)
	}

	return NewMistralClientWithConfig(apiKey, model, mistralDefaultBaseURL, opts...), nil
}

// ChatWithTools sends a chat request with tool definitions and returns tool calls.
//
// Description:
//
//	Converts the generic ChatMessage and ToolDef types to the Mistral wire
//	format, POSTs to /chat/completions, and normalizes the first choice
//	back into a ChatWithToolsResult. Tool-call arguments arrive as a
//	JSON-encoded string and are passed through as raw JSON.
//
// Inputs:
//   - ctx: Context for cancellation and the per-call deadline.
//   - messages: Conversation history with tool metadata, system prompt first.
//   - opts: Generation parameters and tool choice.
//   - tools: Tool definitions for function calling. May be empty.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on rate-limit wait failure, transport failure, non-200
//     status, or an unparsable/empty response.
//
// Thread Safety: This method is safe for concurrent use.
func (m *MistralClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	opts ChatOptions, tools []ToolDef) (*ChatWithToolsResult, error) {

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("mistral: rate limiter wait: %w", err)
		}
	}

	slog.Debug("ChatWithTools via Mistral",
		slog.String("model", m.model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
		slog.String("tool_choice", opts.ToolChoice),
	)

	apiMessages := make([]mistralMessage, 0, len(messages))
	for _, msg := range messages {
		am := mistralMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == "tool" {
			am.Name = msg.ToolName
		}
		for _, tc := range msg.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, mistralToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: mistralCallFunction{
					Name:      tc.Name,
					Arguments: tc.ArgumentsString(),
				},
			})
		}
		apiMessages = append(apiMessages, am)
	}

	var apiTools []mistralTool
	for _, td := range tools {
		apiTools = append(apiTools, mistralTool{
			Type: "function",
			Function: mistralFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}

	temperature := mistralDefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := mistralDefaultMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	reqPayload := mistralRequest{
		Model:       m.model,
		Messages:    apiMessages,
		Tools:       apiTools,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if len(apiTools) > 0 {
		choice := opts.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		reqPayload.ToolChoice = choice
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("mistral: marshaling request: %w", err)
	}

	url := m.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("mistral: creating HTTP request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mistral: reading response body (status %d): %w", resp.StatusCode, err)
	}

	slog.Info("Mistral response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("body_length", len(bodyBytes)),
		slog.String("model", m.model),
		slog.Duration("elapsed", time.Since(start)),
	)
	slog.Debug("Mistral response body",
		slog.String("body", SafeLogString(string(bodyBytes))),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mistral: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp mistralResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("mistral: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("mistral: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("mistral: received no choices")
	}

	choice := apiResp.Choices[0]
	result := &ChatWithToolsResult{
		Content: choice.Message.Content,
	}

	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	return result, nil
}
