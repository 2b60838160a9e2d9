package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/tunesmith-api/internal/api"
	apiMiddleware "github.com/phrazzld/tunesmith-api/internal/api/middleware"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.orchestrator, app.logger)
	r.Route("/api", jobHandler.Routes)

	r.Get("/health", api.HealthHandler(app.health))
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	return r
}
