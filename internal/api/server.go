// Package api provides the HTTP API server and handlers for Marginalia.
package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"log/slog"

	"github.com/marginalia-app/marginalia-server/internal/ratelimit"
	"github.com/marginalia-app/marginalia-server/internal/service"
	"github.com/marginalia-app/marginalia-server/internal/validation"
)

// Search requests per client. Generous for interactive use, but keeps a
// runaway client from hammering the embedding model.
const (
	searchRatePerSecond = 5
	searchRateBurst     = 10
)

// Services groups the business logic services used by the API server.
type Services struct {
	Highlight *service.HighlightService
	Book      *service.BookService
	Tag       *service.TagService
	Search    *service.SearchService
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services      *Services
	router        *chi.Mux
	api           huma.API
	validator     *validation.Validator
	searchLimiter *ratelimit.KeyedRateLimiter
	logger        *slog.Logger

	// defaultOwner is used when a request carries no X-User-ID header.
	// Marginalia is a personal tool; most deployments have one user.
	defaultOwner string
}

// ServerOptions configures a new API server.
type ServerOptions struct {
	Services     *Services
	DefaultOwner string
	Logger       *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(opts ServerOptions) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	humaConfig := huma.DefaultConfig("Marginalia API", "1.0.0")
	api := humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s := &Server{
		services:      opts.Services,
		router:        router,
		api:           api,
		validator:     validation.New(),
		searchLimiter: ratelimit.New(searchRatePerSecond, searchRateBurst),
		logger:        opts.Logger,
		defaultOwner:  opts.DefaultOwner,
	}

	s.registerHealthRoutes()
	s.registerSearchRoutes()
	s.registerHighlightRoutes()
	s.registerBookRoutes()
	s.registerTagRoutes()
	s.registerImportRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ownerID resolves the acting user for a request. The X-User-ID header
// wins; otherwise the configured default owner is used.
func (s *Server) ownerID(header string) (string, error) {
	if header != "" {
		return header, nil
	}
	if s.defaultOwner != "" {
		return s.defaultOwner, nil
	}
	return "", huma.Error401Unauthorized("No user identity: set the X-User-ID header or configure a default owner")
}
