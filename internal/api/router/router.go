package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uzlex/consult-platform/internal/booking"
	httpmiddleware "github.com/uzlex/consult-platform/internal/http/middleware"
	"github.com/uzlex/consult-platform/internal/payments"
	"github.com/uzlex/consult-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	BookingHandler *booking.Handler
	ClickWebhook   *payments.ClickWebhookHandler
	PaymeWebhook   *payments.PaymeWebhookHandler
	UzumWebhook    *payments.UzumWebhookHandler
	AdminHandler   *payments.AdminHandler
	MetricsHandler http.Handler

	AdminAuthSecret string

	// Requests per second and burst for the public API group. Zero disables
	// rate limiting (tests, local runs).
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, provider webhooks. Webhooks skip
	// rate limiting because providers batch retries after outages.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.ClickWebhook != nil {
			public.Post("/webhooks/click", cfg.ClickWebhook.Handle)
		}
		if cfg.PaymeWebhook != nil {
			public.Post("/webhooks/payme", cfg.PaymeWebhook.Handle)
		}
		if cfg.UzumWebhook != nil {
			public.Post("/webhooks/uzum", cfg.UzumWebhook.Handle)
		}
	})

	// Client-facing API.
	r.Group(func(api chi.Router) {
		if cfg.RateLimitRPS > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		api.Route("/api", func(r chi.Router) {
			r.Get("/slots", cfg.BookingHandler.GetSlots)
			r.Route("/consultations", func(r chi.Router) {
				r.Post("/", cfg.BookingHandler.CreateConsultation)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.BookingHandler.GetConsultation)
					r.Get("/history", cfg.BookingHandler.GetHistory)
					r.Post("/payment", cfg.BookingHandler.SelectPayment)
					r.Post("/schedule", cfg.BookingHandler.Schedule)
					r.Post("/reschedule", cfg.BookingHandler.Reschedule)
					r.Post("/cancel", cfg.BookingHandler.Cancel)
				})
			})
		})
	})

	// Operator endpoints, JWT-protected.
	if cfg.AdminAuthSecret != "" {
		r.Route("/api/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/consultations/{id}/complete", cfg.BookingHandler.Complete)
			admin.Post("/consultations/{id}/cancel", cfg.BookingHandler.ForceCancel)
			admin.Post("/consultations/{id}/refund", cfg.BookingHandler.Refund)
			if cfg.AdminHandler != nil {
				admin.Get("/reconciliations", cfg.AdminHandler.ListReconciliations)
				admin.Post("/reconciliations/{id}/resolve", cfg.AdminHandler.ResolveReconciliation)
			}
		})
	}

	return r
}
