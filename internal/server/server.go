// Package server wires routes and middleware into an http.Server.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/samovar-im/server/internal/api"
	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/config"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/middleware"
	"github.com/samovar-im/server/internal/realtime"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB             *database.DB
	AuthService    *auth.Service
	AuthHandler    *api.AuthHandler
	UserHandler    *api.UserHandler
	ConvHandler    *api.ConversationHandler
	MessageHandler *api.MessageHandler
	UploadHandler  *api.UploadHandler
	WSHandler      *realtime.Handler
	RateLimiter    *middleware.RateLimiter
	Logger         *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	registerRoutes(mux, deps)

	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies DB connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Auth routes (public)
	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)

	// Protected routes get auth plus per-user rate limiting
	authMW := auth.Middleware(deps.AuthService)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMW(deps.RateLimiter.Middleware(h))
	}

	mux.Handle("GET /auth/me", protected(deps.AuthHandler.Me))

	// User routes
	mux.HandleFunc("GET /users/search", deps.UserHandler.Search) // public search
	mux.HandleFunc("GET /users/{username}", deps.UserHandler.GetByUsername)
	mux.Handle("GET /users/me", protected(deps.UserHandler.GetMe))
	mux.Handle("PUT /users/me", protected(deps.UserHandler.UpdateProfile))

	// Conversation routes
	mux.Handle("POST /conversations", protected(deps.ConvHandler.CreateConversation))
	mux.Handle("GET /conversations", protected(deps.ConvHandler.ListConversations))
	mux.Handle("GET /conversations/{id}", protected(deps.ConvHandler.GetConversation))
	mux.Handle("POST /conversations/{id}/members", protected(deps.ConvHandler.AddMember))
	mux.Handle("DELETE /conversations/{id}/members/{userId}", protected(deps.ConvHandler.RemoveMember))

	// Message routes
	mux.Handle("GET /conversations/{id}/messages", protected(deps.ConvHandler.GetMessages))
	mux.Handle("POST /conversations/{id}/messages", protected(deps.ConvHandler.SendMessage))
	mux.Handle("POST /conversations/{id}/polls", protected(deps.ConvHandler.CreatePoll))
	mux.Handle("PUT /messages/{id}", protected(deps.MessageHandler.Edit))
	mux.Handle("DELETE /messages/{id}", protected(deps.MessageHandler.Delete))
	mux.Handle("POST /messages/{id}/reactions", protected(deps.MessageHandler.React))
	mux.Handle("DELETE /messages/{id}/reactions/{emoji}", protected(deps.MessageHandler.Unreact))
	mux.Handle("POST /messages/{id}/vote", protected(deps.MessageHandler.Vote))

	// Upload routes (optional, present only when R2 is configured)
	if deps.UploadHandler != nil {
		mux.Handle("POST /uploads/init", protected(deps.UploadHandler.InitUpload))
		mux.Handle("GET /attachments/{id}/url", protected(deps.UploadHandler.GetAttachmentURL))
	}

	// WebSocket route (token auth happens inside the handler)
	mux.Handle("GET /ws", deps.WSHandler)
}
