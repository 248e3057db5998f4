package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vpass-io/vpass-server/internal/http/response"
	"github.com/vpass-io/vpass-server/internal/platform/auth"
)

type ctxKey string

const CtxClaims ctxKey = "claims"

// RequireJWT verifies the bearer token and restricts access to the given
// roles; no roles means any authenticated staff member.
func RequireJWT(verifier *auth.Verifier, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			raw := strings.TrimPrefix(authz, "Bearer ")
			claims, err := verifier.Parse(raw)
			if err != nil {
				response.Unauthorized(w, "invalid authorization token")
				return
			}
			if len(allowed) > 0 && !allowed[claims.Role] {
				response.Forbidden(w, "insufficient role")
				return
			}
			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func Claims(r *http.Request) *auth.Claims {
	v := r.Context().Value(CtxClaims)
	if v == nil {
		return nil
	}
	return v.(*auth.Claims)
}
