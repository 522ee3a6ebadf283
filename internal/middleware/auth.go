package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"lan-registration-platform/internal/models"

	"github.com/gorilla/sessions"
)

type contextKey string

const (
	UserContextKey  contextKey = "user"
	ActorContextKey contextKey = "actor"
)

// SessionUserKey is the session value holding the signed in user id. The
// cookie is issued by the auth service sharing SESSION_SECRET.
const SessionUserKey = "user_id"

// UserLoader resolves session users
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware resolves the purchasing user from the session cookie
type AuthMiddleware struct {
	users       UserLoader
	store       sessions.Store
	sessionName string
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(users UserLoader, store sessions.Store, sessionName string) *AuthMiddleware {
	return &AuthMiddleware{
		users:       users,
		store:       store,
		sessionName: sessionName,
	}
}

// LoadUser adds the session user to the request context when there is one
func (m *AuthMiddleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.store.Get(r, m.sessionName)
		if err != nil {
			// Continue without user if session is invalid
			next.ServeHTTP(w, r)
			return
		}

		userID, ok := session.Values[SessionUserKey].(string)
		if !ok || userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.users.GetByID(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, models.ErrUserNotFound) {
				log.Printf("Auth: failed to load session user %s: %v", userID, err)
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests without a session user
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserFromContext(r.Context()) == nil {
			WriteError(w, http.StatusUnauthorized, models.ErrUnauthorized.Code, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext returns the session user, or nil
func GetUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(UserContextKey).(*models.User)
	return user
}

// AdminKeyHeader carries the administrator API key
const AdminKeyHeader = "X-Admin-Key"

// AdminActorHeader optionally names the operator behind an admin call
const AdminActorHeader = "X-Admin-Actor"

// RequireAdminKey only lets requests carrying apiKey through. An empty key
// disables the admin routes.
func RequireAdminKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(AdminKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				log.Printf("Auth: rejected admin request %s %s from %s", r.Method, r.URL.Path, getClientIP(r))
				WriteError(w, http.StatusUnauthorized, models.ErrUnauthorized.Code, "invalid admin key")
				return
			}

			actor := r.Header.Get(AdminActorHeader)
			if actor == "" {
				actor = "admin"
			}
			ctx := context.WithValue(r.Context(), ActorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActorFromContext returns the operator of an admin request
func GetActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorContextKey).(string)
	return actor
}
