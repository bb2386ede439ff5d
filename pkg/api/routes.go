package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	// Landing page.
	r.Get("/", s.handleIndex)

	// Run lifecycle endpoints. The provider-invoking ones are rate
	// limited when enabled; polling and streaming are not, they only
	// touch local state (or a single idempotent provider poll).
	r.Group(func(r chi.Router) {
		if s.cfg.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(
				s.cfg.Server.RateLimit.RequestsPerMinute,
			))
		}

		r.Post("/start", s.handleStart)
		r.Post("/edit", s.handleEdit)
	})

	r.Get("/status/{run_id}", s.handleStatus)
	r.Get("/stream/{run_id}", s.handleStream)
	r.Post("/rollback", s.handleRollback)
	r.Post("/webhook", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{run_id}/history", s.handleListHistory)

		// Admin endpoints (basic auth against the configured bcrypt
		// hash; absent config disables the whole surface).
		if s.cfg.Auth.Admin.Username != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Delete("/runs/{run_id}", s.handleDeleteRun)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
