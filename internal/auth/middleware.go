package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Unexported key types keep other packages from forging identity values
// into a request context.
type (
	userIDKey   struct{}
	usernameKey struct{}
)

// Middleware validates the bearer token and stamps the caller's identity
// into the request context. Requests without a valid access token never
// reach the wrapped handler.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerFromHeader(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, `{"error":"authorization header required"}`, http.StatusUnauthorized)
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, claims.UserID)
			ctx = context.WithValue(ctx, usernameKey{}, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerFromHeader(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

// GetUserID returns the authenticated caller's id, if the request passed
// through Middleware.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	return id, ok
}

// GetUsername returns the authenticated caller's username.
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey{}).(string)
	return username, ok
}
