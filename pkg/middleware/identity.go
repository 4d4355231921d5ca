package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// IdentityMiddleware copies the internal actor id and external portal
// account id from trusted request headers into the request context. An empty
// header name disables that identity.
func IdentityMiddleware(actorHeader, accountHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if actorHeader != "" {
				if id := strings.TrimSpace(r.Header.Get(actorHeader)); id != "" {
					ctx = contextkeys.WithActorID(ctx, id)
				}
			}
			if accountHeader != "" {
				if id := strings.TrimSpace(r.Header.Get(accountHeader)); id != "" {
					ctx = contextkeys.WithPortalAccountID(ctx, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
