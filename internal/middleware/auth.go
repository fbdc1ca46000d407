package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/choreboard/internal/auth"
)

// SessionCookieName is the cookie browsers carry the session token in.
const SessionCookieName = "choreboard_session"

const (
	msgUnauthorized = "ログインしてください"
	msgForbidden    = "この操作を行う権限がありません"
	msgNoHousehold  = "世帯に参加していません"
)

// Resolver looks up the principal of a session token.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*auth.Principal, error)
}

// Token returns the session token of r: the Authorization bearer token if
// present, otherwise the session cookie.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth resolves the session token and populates AuthContext.
// Unauthenticated requests get a JSON 401.
func RequireAuth(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, msgUnauthorized)
				return
			}

			p, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidSession) && !errors.Is(err, auth.ErrUserNotFound) {
					logger.Error("resolve session", "error", err)
				}
				writeError(w, http.StatusUnauthorized, msgUnauthorized)
				return
			}

			ctx := auth.WithAuth(r.Context(), p.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireHousehold rejects authenticated users who have not joined a household.
func RequireHousehold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.HouseholdID(r.Context()) == 0 {
			writeError(w, http.StatusForbidden, msgNoHousehold)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
