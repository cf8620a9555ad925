// Package web serves the HTTP API over the tracking service: structure
// workbook uploads with staged previews, event CRUD and exports,
// background job progress over SSE, and the edit-session endpoints the
// UI drives.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taxotrack/internal/config"
	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/session"
	webmw "taxotrack/internal/web/middleware"
)

//go:embed static
var staticFiles embed.FS

// Options carries the configuration slices the server needs.
type Options struct {
	Server   config.ServerConfig
	Auth     config.AuthConfig
	Rate     config.RateLimitConfig
	Security config.SecurityConfig
	Imports  config.ImportConfig
	Version  string
}

// Server is the HTTP front end over the core service.
type Server struct {
	service  *core.Service
	sessions *session.Manager
	previews *previewStore
	opts     Options
	router   *chi.Mux
	server   *http.Server
	logger   *slog.Logger

	// uploadLimit throttles the upload endpoints harder than the
	// general limiter. It is a passthrough when rate limiting is off.
	uploadLimit func(http.Handler) http.Handler

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer wires the middleware stack and routes. It starts the rate
// limiter cleanup goroutines; Shutdown stops them.
func NewServer(service *core.Service, sessions *session.Manager, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		service:  service,
		sessions: sessions,
		previews: newPreviewStore(opts.Imports.PreviewTTL),
		opts:     opts,
		router:   chi.NewRouter(),
		logger:   logging.Component("web"),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.opts.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(clientContext)
	s.router.Use(securityHeaders(s.opts.Security.EnableCSP))

	s.uploadLimit = passthrough
	if s.opts.Rate.Enabled {
		general := webmw.NewLimiter(s.opts.Rate.RequestsPerMinute, time.Minute)
		uploads := webmw.NewLimiter(s.opts.Rate.ImportLimit, time.Minute)
		go general.Run(s.baseCtx)
		go uploads.Run(s.baseCtx)
		s.router.Use(general.Handler)
		s.uploadLimit = uploads.Handler
	}
}

func (s *Server) setupRoutes() {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	s.router.Handle("/", http.FileServer(http.FS(staticFS)))
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(webmw.BearerAuth(s.opts.Auth.TokenSecret))

			// Job endpoints stream or block for the job's lifetime, so
			// they stay outside the request timeout.
			r.Get("/structure/jobs/{jobID}", s.handleJobResult)
			r.Get("/structure/jobs/{jobID}/events", s.handleJobEvents)
			r.Delete("/structure/jobs/{jobID}", s.handleJobCancel)

			r.Group(func(r chi.Router) {
				if s.opts.Server.RequestTimeout > 0 {
					r.Use(middleware.Timeout(s.opts.Server.RequestTimeout))
				}

				r.Route("/structure", func(r chi.Router) {
					r.Get("/", s.handleStructureTree)
					r.Get("/export", s.handleStructureExport)
					r.Get("/template", s.handleStructureTemplate)
					r.Get("/backup", s.handleStructureBackup)
					r.With(s.uploadLimit).Post("/preview", s.handleStructurePreview)
					r.Post("/apply", s.handleStructureApply)
					r.With(s.uploadLimit).Post("/restore", s.handleStructureRestore)
				})

				r.Route("/events", func(r chi.Router) {
					r.Post("/", s.handleEventCreate)
					r.Get("/", s.handleEventList)
					r.Get("/export", s.handleEventsExport)
					r.With(s.uploadLimit).Post("/import/preview", s.handleEventsImportPreview)
					r.With(s.uploadLimit).Post("/import/apply", s.handleEventsImportApply)
					r.With(s.uploadLimit).Post("/bulk", s.handleBulkImport)
					r.Get("/bulk/template", s.handleBulkTemplate)
					r.Get("/{eventID}", s.handleEventGet)
					r.Put("/{eventID}", s.handleEventUpdate)
					r.Delete("/{eventID}", s.handleEventDelete)
					r.Route("/{eventID}/attachments", func(r chi.Router) {
						r.Get("/", s.handleAttachmentList)
						r.Post("/", s.handleAttachmentCreate)
						r.Delete("/{attachmentID}", s.handleAttachmentDelete)
					})
				})

				r.Route("/session", func(r chi.Router) {
					r.Get("/", s.handleSessionGet)
					r.Post("/mode", s.handleSessionMode)
					r.Post("/operation", s.handleSessionOperation)
					r.Post("/clear", s.handleSessionClear)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Get("/schema.sql", s.handleSchemaSQL)
					r.Get("/audit", s.handleAuditSearch)
					r.Get("/backups", s.handleBackups)
					r.Get("/formats", s.handleFormats)
				})
			})
		})
	})
}

// Start begins listening on addr and blocks until the listener stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:  s.opts.Server.IdleTimeout,
	}

	s.logger.Info("server listening", "addr", addr, "version", s.opts.Version)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the background cleanup
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler stack for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// clientContext records the caller's IP and user agent for audit
// entries written further down the stack.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithClient(r.Context(), r.RemoteAddr, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeaders hardens every response.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }
