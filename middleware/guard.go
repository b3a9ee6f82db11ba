package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/credential"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by [RequireSession].
func IdentityFromContext(ctx context.Context) (credential.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(credential.Identity)
	return id, ok
}

// RequireSession answers 401 while gw holds no session. Otherwise it stores the
// current identity in the request context and calls next.
func RequireSession(gw *authgate.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gw == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, ok := gw.Identity()
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
