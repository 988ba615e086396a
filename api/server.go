/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing (also in handler logs)
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging through logrus
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the booking frontend

ROUTE GROUPS:
  /api/bookings/*       Guest self-service (token authenticated)
  /api/admin/*          Reservations, inventory and people (bearer JWT, role=admin)
  /api/payments/webhook Gateway callbacks (signature verified)
  /healthz              Liveness + store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: RequireAdmin
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	CORSOrigins []string
	// AdminSecret signs admin bearer tokens. Empty disables admin auth.
	AdminSecret string
	// Log receives access log lines. Nil keeps chi's default logger.
	Log *logrus.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Log != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: opts.Log, NoColor: true}))
	} else {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Guest routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/search", h.Search)
			r.Post("/create", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Patch("/{id}", h.ModifyReservation)
			r.Patch("/{id}/cancel", h.CancelReservation)
		})

		r.Post("/payments/webhook", h.PaymentWebhook)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(opts.AdminSecret))

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", h.ListReservations)
				r.Patch("/cancel-batch", h.BatchCancel)
				r.Patch("/{id}/cancel", h.AdminCancel)
				r.Patch("/{id}/mark-paid", h.MarkPaid)
			})

			r.Route("/properties", func(r chi.Router) {
				r.Get("/", h.ListProperties)
				r.Post("/", h.CreateProperty)
				r.Get("/{id}", h.GetProperty)
				r.Put("/{id}", h.UpdateProperty)
				r.Delete("/{id}", h.DeleteProperty)
			})

			r.Route("/units", func(r chi.Router) {
				r.Get("/", h.ListUnits)
				r.Post("/", h.CreateUnit)
				r.Get("/{id}", h.GetUnit)
				r.Patch("/{id}", h.UpdateUnit)
				r.Post("/{id}/blocks", h.AddBlock)
				r.Delete("/{id}/blocks/{blockID}", h.RemoveBlock)
			})

			r.Route("/people", func(r chi.Router) {
				r.Get("/", h.SearchPeople)
				r.Delete("/{id}", h.DeletePerson)
			})
		})
	})

	return r
}
