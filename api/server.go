/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the member app

SECURITY NOTE:
  Authentication happens in the surrounding platform; this service
  trusts the identity headers it receives. See identity.go.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerUserID, headerUserRole},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/bookings", h.ListUserBookings)
			r.Get("/exchanges", h.ListUserExchanges)
			r.Post("/grants", h.GrantCoins)
			r.Post("/checkin", h.CheckIn)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/complete", h.CompleteBooking)
			r.Post("/{id}/no-show", h.MarkNoShow)
		})

		// Exchange routes
		r.Route("/exchange", func(r chi.Router) {
			r.Get("/items", h.ListExchangeItems)
			r.Post("/requests", h.CreateExchange)
			r.Post("/requests/{id}/fulfill", h.FulfillExchange)
			r.Post("/requests/{id}/cancel", h.CancelExchange)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/templates", h.CreateTemplate)
			r.Get("/templates/{id}", h.GetTemplate)
			r.Delete("/templates/{id}", h.DeactivateTemplate)
			r.Post("/expansions/run", h.RunExpansion)
			r.Get("/expansions", h.ListExpansions)
			r.Post("/expiry/sweep", h.TriggerExpirySweep)
			r.Get("/settings/{key}", h.GetSetting)
			r.Put("/settings/{key}", h.PutSetting)
		})
	})

	return r
}
