package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/domain"
)

// UserHandler handles user-related endpoints
type UserHandler struct {
	users  *database.UserRepository
	logger *slog.Logger
}

func NewUserHandler(users *database.UserRepository, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// Search handles GET /users/search?q=...
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if len(query) < 2 {
		writeError(w, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			limit = l
		}
	}

	users, err := h.users.SearchByUsername(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to search users")
		return
	}

	publicUsers := lo.Map(users, func(u domain.User, _ int) domain.PublicUser {
		return u.ToPublic()
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": publicUsers,
		"count": len(publicUsers),
	})
}

// GetByUsername handles GET /users/{username}
func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user.ToPublic())
}

// UpdateProfile handles PUT /users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		DisplayName string `json:"display_name" validate:"max=100"`
		AvatarURL   string `json:"avatar_url" validate:"omitempty,url,max=500"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	user.DisplayName = input.DisplayName
	user.AvatarURL = input.AvatarURL

	if err := h.users.Update(r.Context(), user); err != nil {
		h.logger.Error("update user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, user.ToPublic())
}

// GetMe handles GET /users/me - returns full user info
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
