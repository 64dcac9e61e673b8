package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/vidcap/internal/logging"
)

// Routes a browser preview polls or holds open. Logged at debug so they
// don't drown out session actions.
var quietPaths = []string{"/api/events", "/api/session/snapshot", "/metrics"}

func quietPath(path string) bool {
	for _, p := range quietPaths {
		if path == p {
			return true
		}
	}
	return false
}

// requestLevel picks the log level for a finished request.
func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == http.MethodOptions, quietPath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// HTTPLoggingMiddleware logs each request once it completes.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	u := ctx.URL()
	path := u.Path
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	// ?auth= carries credentials for EventSource clients.
	if q := u.Query(); len(q) > 0 {
		q.Del("auth")
		if enc := q.Encode(); enc != "" {
			attrs = append(attrs, slog.String("query", enc))
		}
	}
	if ua := ctx.Header("User-Agent"); ua != "" && !strings.HasPrefix(ua, "Go-http-client") {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)
	logger.LogAttrs(ctx.Context(), requestLevel(method, path, status), "HTTP request completed", attrs...)
}
