package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/handler"
	"github.com/parlorhq/parlor/internal/realtime"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/internal/router"
	"github.com/parlorhq/parlor/internal/search"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/pkg/constant"
)

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	// Check database connection
	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "database connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "database connection established")

	// Initialize message search index (nil when no URL configured)
	var searcher *search.Meili
	if cfg.Search.URL != "" {
		searcher = search.NewMeili(cfg.Search.URL, cfg.Search.APIKey, cfg.Search.Index)
		defer searcher.Close()
		log.CtxInfo(ctx, "search index %s connected to %s", cfg.Search.Index, cfg.Search.URL)
	} else {
		log.CtxInfo(ctx, "search disabled: no url configured")
	}

	// Initialize WebSocket server
	wsServer := realtime.NewWsServer(cfg, repos.Redis, repos.Conversation)

	// Initialize services
	authService := service.NewAuthService(repos.User, cfg, repos.Redis)
	convService := service.NewConversationService(repos, wsServer)
	msgService := service.NewMessageService(repos, searcher, wsServer)

	// Start WebSocket server
	wsServer.Run(ctx)
	log.CtxInfo(ctx, "websocket server started")

	// Initialize handlers
	handlers := &router.Handlers{
		Auth:         handler.NewAuthHandler(authService),
		Conversation: handler.NewConversationHandler(convService),
		Message:      handler.NewMessageHandler(msgService, convService),
		Presence:     handler.NewPresenceHandler(wsServer),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h, handlers, wsServer)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	// Start server in goroutine
	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	// Graceful shutdown
	if err := h.Shutdown(ctx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	log.CtxInfo(ctx, "server stopped")
}
