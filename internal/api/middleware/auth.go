package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware verifies session tokens on authenticated endpoints.
type AuthMiddleware struct {
	store  store.DataStore
	secret []byte
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(st store.DataStore, secret []byte) *AuthMiddleware {
	return &AuthMiddleware{store: st, secret: secret}
}

// RequireAuth validates the bearer token (or, for websocket upgrades which
// cannot set headers from browsers, a "token" query parameter) and loads
// the user into the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := auth.ValidateToken(m.secret, tokenString)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		user, err := m.store.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "user no longer exists")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
