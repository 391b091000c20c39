/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. requestLog: zerolog child logger with request_id in the context
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/health                                   Liveness
  /api/clinics                                  Clinics with staff
  /api/clinics/{clinicID}/staff[/{staffID}]     Roster
  /api/clinics/{clinicID}/months/{month}/*      Monthly inputs and payroll
  /api/scenarios/*                              Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/clinic-payroll/logger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(requestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/clinics", h.ListClinics)

		r.Route("/clinics/{clinicID}", func(r chi.Router) {
			// Staff routes
			r.Get("/staff", h.ListStaff)
			r.Post("/staff", h.CreateStaff)
			r.Delete("/staff/{staffID}", h.DeleteStaff)

			// Monthly inputs and payroll
			r.Route("/months/{month}", func(r chi.Router) {
				r.Put("/attendance", h.PutAttendance)
				r.Put("/revenue", h.PutRevenue)
				r.Put("/meals", h.PutMeals)
				r.Get("/pool-rate", h.GetPoolRate)
				r.Put("/pool-rate", h.PutPoolRate)

				r.Route("/payroll", func(r chi.Router) {
					r.Get("/", h.GetPayroll)
					r.Post("/recompute", h.Recompute)
					r.Patch("/{staffID}", h.UpdateField)
				})
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLog attaches a request-scoped logger carrying the request ID.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithFields(r.Context(), map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
