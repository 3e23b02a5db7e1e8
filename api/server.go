/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique id per request, echoed in logs
  2. Logger:     request logging
  3. Recoverer:  panic recovery (500 instead of crash)
  4. CORS:       cross-origin requests from the configured origins
  5. Limiter:    per-IP request rate (ulule/limiter, in-memory store)

ROUTE GROUPS:
  /api/health          Liveness
  /api/employees/*     Employee records, balances, per-employee listings
  /api/leaves/*        Leave requests and decisions
  /api/compoffs/*      Comp-off requests and decisions
  /api/accrual/*       Monthly accrual status and run
  /api/snapshots/*     Opening balance snapshots
  /api/reports/*       Pay-period reports (JSON, PDF)
  /api/scenarios/*     Demo data (development only)

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
)

// RouterConfig tunes the middleware. A nil Rate disables rate limiting.
type RouterConfig struct {
	CORSOrigins []string
	Rate        *limiter.Rate
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	if cfg.Rate != nil {
		lim := limiter.New(limitermemory.NewStore(), *cfg.Rate)
		r.Use(stdlib.NewMiddleware(lim).Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.UpdateEmployee)
			r.Delete("/{id}", h.DeleteEmployee)
			r.Put("/{id}/balances", h.SetBalances)
			r.Get("/{id}/leaves", h.EmployeeLeaves)
			r.Get("/{id}/compoffs", h.EmployeeCompOffs)
			r.Get("/{id}/pending", h.Pending)
		})

		r.Route("/leaves", func(r chi.Router) {
			r.Get("/", h.ListLeaves)
			r.Post("/", h.SubmitLeave)
			r.Get("/{id}", h.GetLeave)
			r.Post("/{id}/decision", h.DecideLeave)
		})

		r.Route("/compoffs", func(r chi.Router) {
			r.Get("/", h.ListCompOffs)
			r.Post("/", h.SubmitCompOff)
			r.Get("/{id}", h.GetCompOff)
			r.Post("/{id}/decision", h.DecideCompOff)
		})

		r.Route("/accrual", func(r chi.Router) {
			r.Get("/", h.AccrualStatus)
			r.Post("/run", h.RunAccrual)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", h.CaptureSnapshot)
			r.Get("/{label}", h.GetSnapshot)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/{year}/{month}", h.GetReport)
			r.Get("/{year}/{month}/pdf", h.GetReportPDF)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
