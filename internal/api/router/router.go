package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/rental-ops/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/rental-ops/internal/http/middleware"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	KommoWebhook   *handlers.KommoWebhookHandler
	MetricsHandler http.Handler
	AdminReplay    *handlers.AdminReplayHandler
	AdminJWTSecret string

	// Per-IP limit on the webhook route; zero disables it.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.KommoWebhook != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
			r.Post("/kommo", cfg.KommoWebhook.Handle)
		})
	}

	if cfg.AdminReplay != nil && cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(httpmiddleware.OperatorJWT(cfg.AdminJWTSecret, cfg.Logger))
			r.Post("/kommo/leads/{leadID}/replay", cfg.AdminReplay.Replay)
		})
	}

	return r
}
