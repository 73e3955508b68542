// Package api provides the thin REST ingress for the analysis service
// (spec.md §1 explicitly scopes this surface as minimal; the core
// engine is internal/service.AnalysisService).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/service"
)

var version = "dev"

// SetVersion records the build version shown by /version.
func SetVersion(v string) { version = v }

// Server is the chi-based HTTP binding over AnalysisService.
type Server struct {
	cfg     *config.Config
	router  chi.Router
	service *service.AnalysisService
}

// NewServer creates a new API server bound to svc.
func NewServer(cfg *config.Config, svc *service.AnalysisService) *Server {
	s := &Server{cfg: cfg, service: svc}
	s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.API.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.cfg.API.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/{runID}", s.handleStatus)
		r.Get("/{runID}/result", s.handleResult)
		r.Get("/{runID}/diagram/{mode}", s.handleGenerateDiagram)
		r.Post("/{runID}/diagram/{mode}/correct", s.handleCorrectDiagram)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// apiKeyAuth validates the configured API key on every route but
// /health and /version.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey != s.cfg.API.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
