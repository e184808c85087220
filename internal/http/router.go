package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))

	r.Get("/v1/healthz", app.Health)

	// Provider webhook, unauthenticated: the provider carries no user token
	// and the handler always acknowledges.
	r.Post("/v1/callbacks/generation", app.GenerationCallback)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		r.Post("/", app.GenerationsStart)
		r.Get("/{correlation_id}", app.GenerationStatus)
		r.Post("/{correlation_id}/refresh", app.GenerationRefresh)
		r.Post("/{correlation_id}/extend", app.GenerationExtend)
	})

	return r
}
