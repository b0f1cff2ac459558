package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/pkg/httputil"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext returns the authenticated user id placed by the
// middleware.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// WithUserID returns a context carrying the user id. Used by the
// middleware and by tests that call handlers directly.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// Middleware authenticates requests with a Bearer session token. When
// devEmail is non-empty, requests without credentials run as that
// account instead of being rejected; local development only.
func (s *Service) Middleware(devEmail string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && devEmail != "" {
				u, err := s.users.GetOrCreateUser(r.Context(), devEmail)
				if err != nil {
					httputil.InternalError(w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), u.ID)))
				return
			}
			if token == "" {
				httputil.Unauthorized(w, "missing bearer token")
				return
			}
			userID, err := s.VerifySession(token)
			if err != nil {
				httputil.Unauthorized(w, "invalid or expired session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
