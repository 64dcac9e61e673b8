package api

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/vidcap/internal/api/models"
	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/session"
	"github.com/smazurov/vidcap/internal/version"
)

const authRealm = `Basic realm="vidcap API"`

// SessionService is the controller surface the API drives.
type SessionService interface {
	ListDevices(ctx context.Context) ([]devices.Descriptor, error)
	Status() session.Status
	SelectDeviceByID(ctx context.Context, id string) error
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	Rebuild(ctx context.Context) error
	SetFormat(ctx context.Context, req media.FormatRequest) error
	TearDown(ctx context.Context) error
}

// SnapshotSource encodes preview frames.
type SnapshotSource interface {
	WriteJPEG(w io.Writer, maxWidth, quality int) error
	WriteNextJPEG(ctx context.Context, w io.Writer, maxWidth, quality int) error
}

// Options configures the API server.
type Options struct {
	AuthUsername   string
	AuthPassword   string
	Session        SessionService
	Snapshots      SnapshotSource
	EventBus       *events.Bus
	MetricsHandler http.Handler // optional Prometheus handler, served without auth
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	session    SessionService
	snapshots  SnapshotSource
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware checks HTTP basic credentials on operations that
// declare a security requirement.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		var encoded string
		if authHeader := ctx.Header("Authorization"); authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				ctx.SetHeader("WWW-Authenticate", authRealm)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid authentication type")
				return
			}
			encoded = authHeader[len(prefix):]
		} else {
			// EventSource cannot set headers, so SSE clients pass ?auth=.
			encoded = ctx.Query("auth")
		}

		if encoded == "" {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
			return
		}

		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok || user != username || pass != password {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("vidcap API", version.String())
	config.Info.Description = "Capture session control and live preview for video capture devices"
	// Empty servers list makes OpenAPI use relative paths.
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:       api,
		mux:       mux,
		session:   opts.Session,
		snapshots: opts.Snapshots,
		eventBus:  opts.EventBus,
		options:   opts,
		logger:    logging.GetLogger("api"),
	}

	// CORS first, then request logging, then auth.
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and open connections, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logging/level",
		Summary:     "Set Log Level",
		Description: "Change one module's log level at runtime",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.LogLevelRequest) (*models.LogLevelResponse, error) {
		if !logging.SetModuleLevel(input.Body.Module, input.Body.Level) {
			return nil, huma.Error422UnprocessableEntity("unknown level " + input.Body.Level)
		}
		s.logger.Info("Log level changed", "module", input.Body.Module, "level", input.Body.Level)
		return &models.LogLevelResponse{Body: input.Body}, nil
	})

	s.registerSessionRoutes()
	s.registerSSERoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
