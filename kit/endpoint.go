// Package kit carries the transport-agnostic plumbing shared by the HTTP
// and MCP surfaces of the ingest daemon: request-scoped context values and
// the Endpoint/Middleware pair every handler is written against.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic handler: typed request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares so the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call with its transport, session and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if sid := GetSessionID(ctx); sid != "" {
				attrs = append(attrs, "session_id", sid)
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.Debug("kit: endpoint ok", attrs...)
			return resp, nil
		}
	}
}
