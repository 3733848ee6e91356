package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/signalix/phoneauth/internal/auth"
	"github.com/signalix/phoneauth/internal/model"
	"github.com/signalix/phoneauth/internal/repo"
)

type contextKey string

const (
	userKey   contextKey = "user"
	userIDKey contextKey = "user_id"
)

// AuthMiddleware validates the bearer access token, loads the user and
// attaches it to the request context.
func AuthMiddleware(jwtService *auth.JWTService, users repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed authorization header")
				return
			}

			claims, err := jwtService.VerifyToken(strings.TrimSpace(token))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token subject")
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			ctx = context.WithValue(ctx, userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the user attached by AuthMiddleware.
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetUserID returns the authenticated user id.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   kind,
		"message": message,
	})
}
