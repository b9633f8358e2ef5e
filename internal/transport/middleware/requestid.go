package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/frahmantamala/transport-fees/pkg/logger"
)

const (
	traceHeader   = "X-Trace-ID"
	maxTraceIDLen = 128
)

// RequestID tags the request with a trace id, taken from X-Trace-ID when the
// caller sent a sane one and generated otherwise, and echoes it back. chi's
// request id, when present, is logged alongside.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)

		fields := []any{"trace_id", traceID}
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		next.ServeHTTP(w, r.WithContext(logger.With(r.Context(), fields...)))
	})
}
