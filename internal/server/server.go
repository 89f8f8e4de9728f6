package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"file-portal/internal/auth"
	"file-portal/internal/blob"
	"file-portal/internal/links"
	"file-portal/internal/ratelimit"
	"file-portal/internal/store"
)

type Config struct {
	Addr             string // e.g. ":8080"
	BaseURL          string // public origin for share URLs; derived from the request when empty
	TrustProxy       bool
	MaxUploadBytes   int64
	MaxCommentLength int
}

// Deps are the components the handlers call into.
type Deps struct {
	Store    *store.Store
	Blobs    blob.Store
	Issuer   *links.Issuer
	Resolver *links.Resolver
	Auth     *auth.Authenticator

	APILimiter      ratelimit.Limiter
	DownloadLimiter ratelimit.Limiter
	LoginLimiter    ratelimit.Limiter
}

type Server struct {
	cfg        Config
	deps       Deps
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxCommentLength <= 0 {
		cfg.MaxCommentLength = 1000
	}
	s := &Server{cfg: cfg, deps: deps}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// requestID -> logging -> recover -> headers -> metrics -> routes
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.limit(s.deps.LoginLimiter, "login")).Post("/login", s.deps.Auth.LoginHandler())
	r.Post("/logout", s.deps.Auth.LogoutHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limit(s.deps.APILimiter, "api"))
		r.Get("/linkinfo/{token}", s.handleLinkInfo)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.RequireAuth)
			r.Get("/files", s.handleListFiles)
			r.Post("/upload", s.handleUpload)
			r.Post("/delete", s.handleDelete)
			r.Post("/getlink", s.handleGetLink)
		})
	})

	r.With(s.limit(s.deps.APILimiter, "api")).Get("/d/{token}", s.handleLanding)
	r.With(s.limit(s.deps.DownloadLimiter, "download")).Get("/dl/{token}", s.handleDownload)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// limit is a no-op when l is nil.
func (s *Server) limit(l ratelimit.Limiter, limitType string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(l, limitType, s.cfg.TrustProxy)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
