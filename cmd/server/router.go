package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jamesl1500/taskispace.com-sub003/internal/handler"
	appMiddleware "github.com/jamesl1500/taskispace.com-sub003/internal/middleware"
	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

// routerDeps is everything the HTTP surface is built from.
type routerDeps struct {
	corsOrigins []string
	auth        *service.AuthService
	rateLimiter *appMiddleware.RateLimiter
	metrics     http.Handler

	health  *handler.HealthHandler
	me      *handler.AuthHandler
	plans   *handler.PlansHandler
	payment *handler.PaymentHandler
	usage   *handler.UsageHandler
	webhook *handler.WebhookHandler
	admin   *handler.AdminHandler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Ops and processor routes (no auth, no per-IP limit)
	r.Get("/health", d.health.Check)
	r.Handle("/metrics", d.metrics)
	r.Post("/api/billing/webhook", d.webhook.Handle) // Signature checked by the gateway

	r.Group(func(r chi.Router) {
		if d.rateLimiter != nil {
			r.Use(d.rateLimiter.Middleware())
		}

		r.Get("/api/plans", d.plans.List)

		// Protected API routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Auth(d.auth))

			r.Get("/api/auth/me", d.me.Me)

			// Billing
			r.Post("/api/billing/checkout", d.payment.CreateCheckout)
			r.Post("/api/billing/portal", d.payment.CreatePortal)
			r.Get("/api/billing/subscription", d.payment.GetSubscription)
			r.Get("/api/billing/usage", d.usage.Summary)

			// Metered actions
			r.Post("/api/usage/{metric}/reserve", d.usage.Reserve)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(appMiddleware.AdminOnly)
				r.Get("/api/admin/stats", d.admin.GetStats)
			})
		})
	})

	return r
}
