package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/api"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// userIDHeader carries the authenticated user to outer middleware, which
// never sees the context derived here.
const userIDHeader = "X-User-ID"

type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (access.Principal, error)
}

func APIKeyAuth(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(userIDHeader)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			principal, err := resolver.ResolvePrincipal(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set(userIDHeader, principal.UserID)
			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(access.Principal)
	return p, ok
}

func GetUserID(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.UserID
}

// userIDFromRequest works from outer middleware too.
func userIDFromRequest(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(userIDHeader)
}
