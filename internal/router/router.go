package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/handler"
	"github.com/parlorhq/parlor/internal/middleware"
	"github.com/parlorhq/parlor/internal/realtime"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Auth         *handler.AuthHandler
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Presence     *handler.PresenceHandler
}

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, handlers *Handlers, wsServer *realtime.WsServer) {
	cfg := config.GlobalConfig

	// CORS middleware
	h.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth routes (no auth required)
	authGroup := h.Group("/auth")
	{
		authGroup.POST("/register", handlers.Auth.Register)
		authGroup.POST("/login", handlers.Auth.Login)
	}
	h.POST("/auth/logout", middleware.JWTAuth(), handlers.Auth.Logout)

	// Channel routes (auth required)
	channelGroup := h.Group("/channels", middleware.JWTAuth())
	{
		channelGroup.POST("", handlers.Conversation.CreateChannel)
		channelGroup.GET("", handlers.Conversation.ListChannels)
		channelGroup.GET("/:id", handlers.Conversation.GetChannel)
		channelGroup.POST("/:id/join", handlers.Conversation.JoinChannel)
		channelGroup.POST("/:id/leave", handlers.Conversation.LeaveChannel)
		channelGroup.POST("/:id/archive", handlers.Conversation.ArchiveChannel)
	}

	// DM thread routes (auth required)
	dmGroup := h.Group("/dm_threads", middleware.JWTAuth())
	{
		dmGroup.POST("", handlers.Conversation.CreateDmThread)
		dmGroup.GET("", handlers.Conversation.ListDmThreads)
	}

	// Conversation routes (auth required)
	convGroup := h.Group("/conversations", middleware.JWTAuth())
	{
		convGroup.GET("", handlers.Conversation.ListConversations)
		convGroup.POST("/mark_read", handlers.Conversation.MarkRead)
		convGroup.GET("/unread_count", handlers.Conversation.GetUnreadCount)
	}

	// Message routes (auth required)
	msgGroup := h.Group("/messages", middleware.JWTAuth())
	{
		msgGroup.POST("", handlers.Message.SendMessage)
		msgGroup.GET("", handlers.Message.ListMessages)
		msgGroup.GET("/search", handlers.Message.Search)
		msgGroup.GET("/pins", handlers.Message.ListPins)
		msgGroup.PUT("/:id", handlers.Message.EditMessage)
		msgGroup.DELETE("/:id", handlers.Message.DeleteMessage)
		msgGroup.GET("/:id/replies", handlers.Message.ListReplies)
		msgGroup.POST("/:id/reactions", handlers.Message.AddReaction)
		msgGroup.DELETE("/:id/reactions", handlers.Message.RemoveReaction)
		msgGroup.POST("/:id/pin", handlers.Message.PinMessage)
		msgGroup.DELETE("/:id/pin", handlers.Message.UnpinMessage)
	}

	// Presence routes (auth required)
	presenceGroup := h.Group("/presence", middleware.JWTAuth())
	{
		presenceGroup.GET("/:id", handlers.Presence.GetOnlineStatus)
	}

	// WebSocket route, sharing the CORS allowlist for the upgrade handshake
	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			origin := string(ctx.Request.Header.Peek("Origin"))
			// No Origin header means a same-origin or non-browser client
			return origin == "" || middleware.OriginAllowed(origin, allowedOrigins)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}
