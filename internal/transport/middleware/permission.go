package middleware

import (
	"net/http"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/transport"
)

// RequireAdmin rejects callers without the administrator role. Services
// check capabilities again; this keeps admin routes closed at the edge.
func RequireAdmin(base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := internal.CallerFromContext(r.Context())
			if !ok {
				base.HandleServiceError(w, internal.ErrInvalidToken)
				return
			}
			if !caller.IsAdmin() {
				base.Logger.Warn("access denied: admin role required",
					"user_id", caller.UserID,
					"role", caller.Role,
					"path", r.URL.Path)
				base.HandleServiceError(w, internal.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
