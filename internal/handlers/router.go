package handlers

import (
	"context"
	"net/http"
	"time"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds everything the HTTP surface is built from
type RouterConfig struct {
	Cart     *CartHandler
	Webhooks *WebhookHandler
	Admin    *AdminHandler

	Auth           *middleware.AuthMiddleware
	AdminKey       string
	RateLimiter    *middleware.CheckoutRateLimiter
	AllowedOrigins []string
	Metrics        *metrics.CartMetrics

	// Health reports whether the service can reach its database
	Health func(ctx context.Context) error
}

// NewRouter builds the chi router of the API
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware(cfg.Metrics))
	r.Use(middleware.ErrorHandlingMiddleware)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Health(ctx); err != nil {
				middleware.WriteError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Providers authenticate with their signature, not the session
	r.Post("/webhooks/{provider}", cfg.Webhooks.Receive)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.LoadUser)
		r.Use(cfg.Auth.RequireAuth)

		r.Get("/items", cfg.Cart.ListItems)
		r.Route("/carts", func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.With(middleware.CheckoutRateLimit(cfg.RateLimiter)).Post("/", cfg.Cart.CreateCart)
			} else {
				r.Post("/", cfg.Cart.CreateCart)
			}
			r.Get("/{cartID}", cfg.Cart.GetCart)
		})
	})

	r.Route("/admin/carts/{cartID}", func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(cfg.AdminKey))

		r.Get("/", cfg.Admin.GetCart)
		r.Post("/force-pay", cfg.Admin.ForcePay)
		r.Post("/refund", cfg.Admin.Refund)
		r.Post("/resend", cfg.Admin.Resend)
	})

	return r
}
