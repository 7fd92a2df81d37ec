// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant is the HTTP and websocket surface of the concierge
// service: it builds the caller's auth context, hands the message to the
// orchestrator, and returns the single reply string.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
	"github.com/AleutianAI/concierge/services/assistant/catalog"
	"github.com/AleutianAI/concierge/services/assistant/memory"
)

// PolicyMessage is returned in place of a reply when a sensitive tool was
// requested outside an authenticated direct message.
const PolicyMessage = "This action needs an authenticated direct message. " +
	"Please contact me in a private conversation so I can verify your account."

// Responder generates the reply for one inbound message. Satisfied by
// orchestrator.Orchestrator.
type Responder interface {
	Respond(ctx context.Context, auth authctx.Context, message string) (string, error)
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	responder Responder
	resolver  *authctx.Resolver
	catalog   *catalog.Catalog
	memory    *memory.Memory
}

// NewHandlers creates the handler set.
func NewHandlers(responder Responder, resolver *authctx.Resolver,
	cat *catalog.Catalog, mem *memory.Memory) *Handlers {
	return &Handlers{
		responder: responder,
		resolver:  resolver,
		catalog:   cat,
		memory:    mem,
	}
}

// MessageRequest is one inbound chat message.
type MessageRequest struct {
	UserID        string `json:"userId" binding:"required"`
	RoomID        string `json:"roomId" binding:"required"`
	DirectMessage bool   `json:"directMessage"`
	Message       string `json:"message" binding:"required"`
}

// MessageResponse is the reply for one chat message.
type MessageResponse struct {
	Reply   string `json:"reply"`
	RoomID  string `json:"roomId"`
	TraceID string `json:"traceId,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HandleMessage handles POST /v1/messages.
//
// Description:
//
//	Resolves the sender against the resident directory, runs one
//	orchestrator turn, and returns the reply. An unauthorized sensitive
//	tool request comes back as 403 with the fixed policy message in the
//	reply field, so chat frontends can render it like any other answer.
//
// Response:
//
//	200 OK: MessageResponse
//	400 Bad Request: Missing required field
//	403 Forbidden: MessageResponse carrying the policy message
func (h *Handlers) HandleMessage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMessage")

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "userId, roomId and message are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	auth := h.resolver.Resolve(req.UserID, req.RoomID, req.DirectMessage)
	reply, err := h.responder.Respond(c.Request.Context(), auth, req.Message)
	if err != nil {
		if errors.Is(err, authctx.ErrUnauthorized) {
			logger.Warn("Unauthorized tool request",
				slog.String("user", req.UserID),
				slog.String("room", req.RoomID),
			)
			c.JSON(http.StatusForbidden, MessageResponse{
				Reply:   PolicyMessage,
				RoomID:  req.RoomID,
				TraceID: h.memory.TraceID(req.RoomID),
			})
			return
		}
		logger.Error("Turn failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to generate a reply",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, MessageResponse{
		Reply:   reply,
		RoomID:  req.RoomID,
		TraceID: h.memory.TraceID(req.RoomID),
	})
}

// ToolInfo is the public description of one registered tool.
type ToolInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// HandleListTools handles GET /v1/tools.
func (h *Handlers) HandleListTools(c *gin.Context) {
	descriptors := h.catalog.List()
	tools := make([]ToolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, ToolInfo{
			Name:         d.Name,
			Description:  d.Description,
			RequiresAuth: d.RequiresAuth,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

// HandleClearHistory handles DELETE /v1/rooms/:roomID/history.
func (h *Handlers) HandleClearHistory(c *gin.Context) {
	roomID := c.Param("roomID")
	h.memory.Clear(roomID)
	slog.Info("Conversation history cleared", slog.String("room", roomID))
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getOrCreateRequestID reuses the caller's X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
