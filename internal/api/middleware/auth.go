package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// UserHeader names the calling user. The relay runs inside a family network,
// so a known user ID is the whole credential.
const UserHeader = "X-User-ID"

const maxUserIDLength = 64

// AuthMiddleware resolves the calling user from the request headers.
type AuthMiddleware struct {
	users  store.DataStore
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(users store.DataStore, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{users: users, logger: logger}
}

// RequireUser rejects requests that do not name a known user.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			jsonError(w, http.StatusUnauthorized, "X-User-ID header required")
			return
		}
		if len(userID) > maxUserIDLength {
			jsonError(w, http.StatusUnauthorized, "invalid user ID")
			return
		}

		user, err := m.users.GetUser(r.Context(), userID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", userID).Msg("user lookup failed")
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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

// WithUser returns a context carrying user, as RequireUser would.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
