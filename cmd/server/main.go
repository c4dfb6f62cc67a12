package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/samovar-im/server/internal/api"
	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/config"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/middleware"
	"github.com/samovar-im/server/internal/pubsub"
	"github.com/samovar-im/server/internal/realtime"
	"github.com/samovar-im/server/internal/server"
	"github.com/samovar-im/server/internal/storage"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// In dev a .env file is convenient; in production vars come from the host
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, "migrations"); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := database.NewUserRepository(db)
	convRepo := database.NewConversationRepository(db)
	attachmentRepo := database.NewAttachmentRepository(db)

	// Auth
	tokenService, err := auth.NewTokenService(cfg.JWTSigningKey)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(userRepo, tokenService)

	// PubSub: in-memory for a single instance, Redis to scale out
	var ps pubsub.PubSub
	switch cfg.PubSubType {
	case "redis":
		rps, err := pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		ps = rps
		slog.Info("using redis pubsub")
	default:
		ps = pubsub.NewMemoryPubSub()
		slog.Info("using in-memory pubsub")
	}
	defer ps.Close()

	// Broadcaster lets REST handlers push events to live connections
	broadcaster := realtime.NewPubSubBroadcaster(ps)

	// Realtime hub and WebSocket handler
	hub := realtime.NewHub(convRepo, convRepo, ps, logger)
	defer hub.Close()
	wsHandler := realtime.NewHandler(hub, authService, logger)

	// R2 storage (optional - uploads disabled when unconfigured)
	var uploadHandler *api.UploadHandler
	if cfg.R2Enabled() {
		r2, err := storage.NewR2Storage(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket)
		if err != nil {
			slog.Error("failed to initialize R2 storage", "error", err)
			os.Exit(1)
		}
		uploadHandler = api.NewUploadHandler(attachmentRepo, convRepo, r2, cfg.MaxUploadBytes, logger)
		slog.Info("R2 storage initialized", "bucket", cfg.R2Bucket)
	} else {
		slog.Warn("R2 storage not configured - file uploads disabled")
	}

	// HTTP handlers
	authHandler := api.NewAuthHandler(authService, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	convHandler := api.NewConversationHandler(convRepo, userRepo, broadcaster, logger)
	messageHandler := api.NewMessageHandler(convRepo, broadcaster, logger)

	deps := &server.Dependencies{
		DB:             db,
		AuthService:    authService,
		AuthHandler:    authHandler,
		UserHandler:    userHandler,
		ConvHandler:    convHandler,
		MessageHandler: messageHandler,
		UploadHandler:  uploadHandler,
		WSHandler:      wsHandler,
		RateLimiter:    middleware.NewRateLimiter(300),
		Logger:         logger,
	}

	srv := server.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
