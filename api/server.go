/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/members/*       Member roster and per-member sanctions
  /api/events/*        Events, attendance, evaluation lifecycle
  /api/evaluations/*   Date-driven evaluation and run history
  /api/sanctions/*     Payment
  /api/performance/*   Weight redistribution
  /api/scenarios/*     Demo scenarios
  /healthz             Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/sanctions/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}/sanctions", h.GetMemberSanctions)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/attendance", h.RecordAttendance)
			r.Post("/{id}/evaluate", h.EvaluateEvent)
			r.Post("/{id}/reverse", h.ReverseEvent)
			r.Post("/{id}/close", h.CloseEvent)
			r.Post("/{id}/force-close", h.ForceCloseEvent)
			r.Post("/{id}/reopen", h.ReopenEvent)
			r.Get("/{id}/sanctions", h.GetEventSanctions)
		})

		r.Route("/evaluations", func(r chi.Router) {
			r.Post("/", h.EvaluateDate)
			r.Get("/runs", h.ListRuns)
		})

		r.Post("/sanctions/{id}/pay", h.PaySanction)

		r.Post("/performance/weights", h.RedistributeWeights)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
