package realtime

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/jwt"
)

// HandleHertzConnection handles a WebSocket connection from Hertz using hertz-contrib/websocket
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		c.String(503, errcode.ErrConnOverLimit.Msg)
		return
	}

	token := string(c.Query(QueryToken))
	platformIdStr := string(c.Query(QueryPlatformId))
	platformId := 0
	if platformIdStr != "" {
		platformId, _ = strconv.Atoi(platformIdStr)
	}

	// A missing token yields an anonymous connection; a bad one is rejected
	userId, tenantId := "", ""
	if token != "" {
		claims, err := jwt.ParseToken(token, s.cfg.JWT.Secret)
		if err != nil {
			log.CtxDebug(ctx, "token validation failed: error=%v", err)
			c.String(401, "unauthorized")
			return
		}
		userId, tenantId = claims.UserId, claims.TenantId
	}

	err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
		connId := uuid.New().String()
		wsConn := NewHertzWebSocketClientConn(conn, s.cfg.WebSocket.MaxMessageSize, s.cfg.WebSocket.WriteChannelSize, s.cfg.WebSocket.PongWait, s.cfg.WebSocket.PingPeriod)
		client := NewClient(wsConn, userId, tenantId, platformId, token, connId, s)

		s.registerChan <- client

		// Blocking read loop keeps the upgraded connection alive
		client.readLoop()
	})

	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}
}
