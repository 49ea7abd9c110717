package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/kit"
)

// RequestID assigns an ID to each request and injects it into the context
// (kit.RequestIDKey), the X-Request-ID response header, and a per-request
// logger stored under LoggerKey. A well-formed incoming X-Request-ID is kept.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	gen := idgen.NanoID(12)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if len(id) == 0 || len(id) > 64 {
				id = gen()
			}
			ctx := kit.WithRequestID(r.Context(), id)
			w.Header().Set("X-Request-ID", id)

			l := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
