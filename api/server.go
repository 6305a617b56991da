/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request logging (logger.Middleware)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request context deadline
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /healthz              Liveness plus database ping
  /api/contracts/*      Contract intake and margins by contract
  /api/invoices/*       Invoice intake, margin, payments
  /api/margins/*        Overrides and validation
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/logger"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", headerActorID, headerTenantID}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log.Named("http")))
	r.Use(logger.Recoverer(log.Named("http")))
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   opts.AllowedMethods,
		AllowedHeaders:   opts.AllowedHeaders,
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/margins", h.ListContractMargins)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)

			r.Post("/{id}/margin", h.CreateMargin)
			r.Get("/{id}/margin", h.GetMargin)
			r.Get("/{id}/margin/history", h.GetMarginHistory)

			r.Post("/{id}/payments", h.ExecutePayment)
			r.Get("/{id}/payments/status", h.GetPaymentStatus)
		})

		r.Route("/margins", func(r chi.Router) {
			r.Post("/validate", h.ValidateMargin)
			r.Post("/{id}/override", h.OverrideMargin)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
