package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parlorhq/parlor/internal/realtime"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/response"
)

// PresenceHandler exposes presence over HTTP for clients that are not
// connected to the realtime surface
type PresenceHandler struct {
	ws *realtime.WsServer
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(ws *realtime.WsServer) *PresenceHandler {
	return &PresenceHandler{ws: ws}
}

// GetOnlineStatus answers "is this user online" from the tracker, falling
// back to the Redis mirror for users on other instances
func (h *PresenceHandler) GetOnlineStatus(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	targetId := c.Param("id")
	online := h.ws.Presence().IsOnline(ctx, tenantId, targetId)
	status := h.ws.Presence().Status(tenantId, targetId)

	response.Success(ctx, c, map[string]interface{}{
		"user_id": targetId,
		"online":  online,
		"status":  status,
	})
}
