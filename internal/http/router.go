package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"skygen/internal/http/handlers"
	"skygen/internal/infra"
	"skygen/internal/middleware"
)

// NewRouter assembles the API surface with the shared middleware stack.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.UserID,
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.StartGeneration)
		r.Get("/current", app.CurrentGeneration)
		r.Delete("/current", app.ResetGeneration)
	})

	return r
}
