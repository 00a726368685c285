// Package web provides the HTTP API for CSV ingestion: uploads, progress,
// review, commit, rollback and history, plus the websocket endpoint and
// operational routes.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/config"
	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/realtime"
	"github.com/JonMunkholm/livpulse/internal/web/middleware"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Options are the optional collaborators of a Server.
type Options struct {
	// Hub serves /ws when set.
	Hub *realtime.Hub

	// Metrics serves the metrics path when set and metrics are enabled.
	Metrics http.Handler

	// Checks are reported by /healthz, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Server is the HTTP server for the livpulse ingestion API.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	verifier *auth.Verifier
	hub      *realtime.Hub
	metrics  http.Handler
	checks   map[string]HealthCheck
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, service *core.Service, verifier *auth.Verifier, opts Options) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		verifier: verifier,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		checks:   opts.Checks,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Metrics())
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	if s.cfg.Rate.Enabled {
		s.router.Use(middleware.RateLimit(s.cfg.Rate.RequestsPerMinute, 0, middleware.ByIP))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics)
	}

	if s.hub != nil {
		s.router.Get("/ws", realtime.Handler(s.hub, s.verifier, s.cfg.Security.AllowedOrigins, s.snapshot))
	}

	s.router.Route("/api/data-input", func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
		r.Use(auth.Middleware(s.verifier))
		r.Use(auth.RequireRoles(auth.DataRoles...))

		upload := r.With()
		if s.cfg.Rate.Enabled {
			upload = r.With(middleware.RateLimit(s.cfg.Rate.UploadLimit, 0, userKey))
		}
		upload.Post("/csv/upload", s.handleUpload)

		r.Get("/csv/{uploadID}/progress", s.handleProgress)
		r.Get("/csv/{uploadID}/errors", s.handleExportErrors)
		r.Post("/csv/{uploadID}/commit", s.handleCommit)
		r.With(auth.RequireRoles(auth.PrivilegedRoles...)).
			Post("/csv/{uploadID}/rollback", s.handleRollback)
		r.Get("/csv/{uploadID}", s.handleResult)
		r.Delete("/csv/{uploadID}", s.handleDelete)

		r.Get("/uploads/history", s.handleHistory)
	})
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON API only; nothing here should load resources.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// userKey counts upload requests per authenticated user.
func userKey(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(u.ID, 10)
	}
	return "ip:" + middleware.ByIP(r)
}
