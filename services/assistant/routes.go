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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the assistant endpoints with the router group.
//
// Endpoints:
//
//	POST   /v1/messages - Handle one inbound chat message
//	GET    /v1/ws - Websocket chat stream
//	GET    /v1/tools - List the registered tools
//	DELETE /v1/rooms/:roomID/history - Clear a room's conversation memory
//
// Example:
//
//	handlers := assistant.NewHandlers(orch, resolver, cat, mem)
//	v1 := router.Group("/v1")
//	assistant.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/messages", handlers.HandleMessage)
	rg.GET("/ws", handlers.HandleWebsocket)
	rg.GET("/tools", handlers.HandleListTools)
	rg.DELETE("/rooms/:roomID/history", handlers.HandleClearHistory)
}
