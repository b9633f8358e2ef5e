package middleware

import (
	"context"
	"net/http"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/transport"
	"github.com/frahmantamala/transport-fees/pkg/logger"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (internal.Caller, error)
}

// Authenticate resolves the bearer token into an internal.Caller and stores
// it on the request context. Requests without a valid token are rejected.
func Authenticate(auth Authenticator, base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := auth.Authenticate(r.Context(), transport.BearerToken(r))
			if err != nil {
				base.Logger.Warn("authentication failed", "path", r.URL.Path, "error", err)
				base.HandleServiceError(w, err)
				return
			}

			ctx := internal.ContextWithCaller(r.Context(), caller)
			ctx = logger.With(ctx, "caller_id", caller.UserID, "caller_role", string(caller.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
