package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tryon/internal/http/handlers"
	"tryon/internal/infra"
	"tryon/internal/middleware"
)

func NewRouter(cfg *infra.Config, app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/metrics", app.MetricsHandler)

	if cfg.StorageBackend == infra.StorageBackendFilesystem && cfg.StoragePath != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(cfg.JWTSecret, cfg.JWTAudience),
			middleware.I18N(cfg.DefaultLocale),
		)

		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/tryon", app.TryOn)

		r.Route("/generations", func(r chi.Router) {
			r.Get("/", app.ListGenerations)
			r.Delete("/{id}", app.DeleteGeneration)
			r.Get("/{id}/archive", app.ArchiveGeneration)
		})
	})

	return r
}
