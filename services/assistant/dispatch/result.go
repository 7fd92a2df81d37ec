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
	"fmt"
	"strings"
)

// Content block kinds.
const (
	KindText  = "text"
	KindImage = "image"
)

// ContentBlock is one element of a tool result.
//
// Description:
//
//	Tagged variant: text blocks carry Text; image blocks carry Data and
//	MimeType. Only the fields for the active Kind are populated.
type ContentBlock struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: KindText, Text: text}
}

// Result is the uniform envelope every tool invocation produces.
//
// Description:
//
//	IsError marks soft failures (unknown tool, handler error, bad
//	arguments). The orchestration loop treats both outcomes the same
//	structurally: the content is joined into a tool turn and fed back to
//	the model. Results are never mutated after construction.
type Result struct {
	IsError bool           `json:"isError"`
	Content []ContentBlock `json:"content"`
}

// TextResult builds a success result with a single text block.
func TextResult(text string) Result {
	return Result{Content: []ContentBlock{TextBlock(text)}}
}

// ErrorResult builds a soft-failure result with a formatted text block.
func ErrorResult(format string, args ...any) Result {
	return Result{
		IsError: true,
		Content: []ContentBlock{TextBlock(fmt.Sprintf(format, args...))},
	}
}

// JoinedText concatenates the text blocks with newlines. Image blocks are
// skipped; the model consumes text evidence only.
func (r Result) JoinedText() string {
	var parts []string
	for _, block := range r.Content {
		if block.Kind == KindText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
