package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/samovar-im/server/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins in development (tighten in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections. Authentication
// happens before the realtime core runs: the token travels in the query
// string (browsers cannot set headers on WebSocket dials) or in the
// Authorization header.
type Handler struct {
	hub    *Hub
	auth   *auth.Service
	logger *slog.Logger
}

// NewHandler creates a WebSocket handler
func NewHandler(hub *Hub, authService *auth.Service, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		auth:   authService,
		logger: logger,
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// ServeHTTP authenticates, upgrades, and runs the connection pumps
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, `{"error":"token required"}`, http.StatusUnauthorized)
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, claims.Username, h.logger)

	// The request context dies when ServeHTTP returns after the upgrade,
	// so the connection gets its own lifecycle context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Connect(ctx, client)

	go client.WritePump(ctx)
	client.ReadPump(ctx) // blocks until the client disconnects
}
