// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/concierge/services/assistant/authctx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service sits behind the portal's gateway, which enforces origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebsocket handles GET /v1/ws.
//
// Description:
//
//	Upgrades the connection and runs a read loop: each frame is a
//	MessageRequest, each reply a MessageResponse. Frames are handled
//	sequentially per connection, which preserves the per-room ordering
//	the memory layer relies on; separate rooms use separate connections
//	or interleave freely.
func (h *Handlers) HandleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	slog.Info("Websocket session opened", slog.String("remote", conn.RemoteAddr().String()))

	for {
		var req MessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if req.UserID == "" || req.RoomID == "" || req.Message == "" {
			if err := conn.WriteJSON(ErrorResponse{
				Error: "userId, roomId and message are required",
				Code:  "MISSING_PARAMETER",
			}); err != nil {
				return
			}
			continue
		}

		auth := h.resolver.Resolve(req.UserID, req.RoomID, req.DirectMessage)
		reply, err := h.responder.Respond(ctx, auth, req.Message)
		if err != nil {
			if !errors.Is(err, authctx.ErrUnauthorized) {
				slog.Error("Websocket turn failed", slog.String("error", err.Error()))
				if err := conn.WriteJSON(ErrorResponse{
					Error: "failed to generate a reply",
					Code:  "INTERNAL_ERROR",
				}); err != nil {
					return
				}
				continue
			}
			reply = PolicyMessage
		}

		if err := conn.WriteJSON(MessageResponse{
			Reply:   reply,
			RoomID:  req.RoomID,
			TraceID: h.memory.TraceID(req.RoomID),
		}); err != nil {
			return
		}
	}
}
