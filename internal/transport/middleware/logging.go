package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	chimw "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/transport-fees/pkg/logger"
)

// redactedKeys are matched as substrings of lower-cased JSON keys and header
// names. Gateway signatures and tokens must never reach the logs.
var redactedKeys = []string{
	"authorization",
	"signature",
	"token",
	"secret",
	"password",
	"api_key",
	"server_key",
	"credential",
}

const (
	maxLoggedBody = 64 << 10
	redacted      = "[FILTERED]"
)

// LoggingMiddleware writes one access line per request. Request bodies are
// logged at debug level with sensitive fields masked; the body is restored so
// handlers still see the exact bytes signatures were computed over.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := base.With(logger.Fields(r.Context())...)

			if base.Enabled(r.Context(), slog.LevelDebug) && r.Body != nil && r.Method != http.MethodGet {
				head, _ := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(head), r.Body))
				lg.Debug("request body",
					"method", r.Method,
					"path", r.URL.Path,
					"headers", redactHeaders(r.Header),
					"body", redactBody(head))
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			lg.Log(r.Context(), level, "http request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"route", route,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

func isRedacted(name string) bool {
	name = strings.ToLower(name)
	for _, key := range redactedKeys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isRedacted(name) {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		// not JSON; refuse to guess where secrets sit
		return "[non-JSON body omitted]"
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return "[unloggable body]"
	}
	return string(out)
}

func redactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for key, inner := range t {
			if isRedacted(key) {
				t[key] = redacted
				continue
			}
			t[key] = redactValue(inner)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}
