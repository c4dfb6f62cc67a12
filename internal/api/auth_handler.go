package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/domain"
)

// The refresh token never appears in a JSON body: it travels only in an
// HttpOnly cookie, so script on the page cannot read it.
const refreshTokenCookie = "refresh_token"

// AuthHandler exposes the register/login/refresh/logout endpoints.
type AuthHandler struct {
	auth   *auth.Service
	logger *slog.Logger
}

func NewAuthHandler(authService *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, logger: logger}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input auth.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.auth.Register(r.Context(), input)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, user, tokens)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input auth.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.auth.Login(r.Context(), input)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, user, tokens)
}

// Refresh handles POST /auth/refresh. The old refresh token is consumed and
// a rotated one is set on the response.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	user, tokens, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, user, tokens)
}

// Logout handles POST /auth/logout. Revocation is best effort: a missing or
// already-dead cookie still clears the client side.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		_ = h.auth.Logout(r.Context(), cookie.Value)
	}
	h.setRefreshCookie(w, "", -1)

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	username, _ := auth.GetUsername(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       userID,
		"username": username,
	})
}

// writeSession is the shared success shape for register, login and refresh:
// rotated refresh cookie plus the access token in the body.
func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, user *domain.User, tokens *auth.TokenPair) {
	h.setRefreshCookie(w, tokens.RefreshToken, int(h.auth.RefreshTokenTTL().Seconds()))
	writeJSON(w, status, map[string]interface{}{
		"user":         user.ToPublic(),
		"access_token": tokens.AccessToken,
		"expires_at":   tokens.ExpiresAt,
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true, // set to false for local development without HTTPS
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, domain.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, domain.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already taken")
	case errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, domain.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token revoked")
	default:
		h.logger.Error("auth request failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
