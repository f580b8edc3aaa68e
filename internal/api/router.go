package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ankitraval/jobforge/internal/api/handler"
	mw "github.com/ankitraval/jobforge/internal/api/middleware"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	Jobs          *handler.Jobs
	HealthHandler http.HandlerFunc
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", deps.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(mw.Tenant)

		r.Post("/api/v1/jobs", deps.Jobs.Create)
		r.Get("/api/v1/jobs", deps.Jobs.List)
		r.Get("/api/v1/jobs/{jobID}", deps.Jobs.Get)
		r.Delete("/api/v1/jobs/{jobID}", deps.Jobs.Cancel)
	})

	return r
}
