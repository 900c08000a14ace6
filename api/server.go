/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  slog request logging with the request id
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests for the front-end
  5. Auth:           Bearer JWT on every /api route

ROUTE GROUPS:
  /healthz              Liveness
  /api/dev/token        Token minting (DEV_TOKENS only, unauthenticated)
  /api/employees/*      Employees, balances, ledger, requests, presence
  /api/requests/*       Pending queue and decisions
  /api/holidays         Public holidays
  /api/leave-days       Cost preview
  /api/admin/*          Ledger audit
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token validation
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		if h.devTokens {
			r.Post("/dev/token", h.IssueDevToken)
		}

		r.Group(func(r chi.Router) {
			r.Use(Auth(h.JWTSecret))
			h.routes(r)
		})
	})

	return r
}

// routes registers the authenticated /api routes.
func (h *Handler) routes(r chi.Router) {
	// Employee routes
	r.Route("/employees", func(r chi.Router) {
		r.Get("/", h.ListEmployees)
		r.Post("/", h.CreateEmployee)
		r.Get("/{id}", h.GetEmployee)
		r.Get("/{id}/balance", h.GetBalance)
		r.Get("/{id}/ledger", h.GetLedger)
		r.Post("/{id}/adjustments", h.CreateAdjustment)
		r.Get("/{id}/requests", h.ListEmployeeRequests)
		r.Post("/{id}/requests", h.SubmitRequest)
		r.Get("/{id}/presence", h.GetPresence)
	})

	// Request approval routes
	r.Route("/requests", func(r chi.Router) {
		r.Get("/pending", h.ListPendingRequests)
		r.Get("/{id}", h.GetRequest)
		r.Post("/{id}/decision", h.DecideRequest)
	})

	// Calendar routes
	r.Get("/holidays", h.ListHolidays)
	r.Get("/leave-days", h.PreviewLeaveDays)

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Get("/audit", h.GetLastAudit)
		r.Post("/audit", h.RunAudit)
	})

	// Scenario routes
	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.ListScenarios)
		r.Get("/current", h.GetCurrentScenario)
		r.Post("/load", h.LoadScenario)
	})
}
