package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eventstreamhq/engine/internal/webhook"
)

// NewRouter assembles the full route table: health, the provider
// webhook endpoints, and the /api/v1 operator surface.
func NewRouter(h *Handlers, ing *webhook.Ingestor) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	// Provider callbacks. Form-encoded, acknowledged 200 no matter
	// what; see the webhook package for the durability contract.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/inbound", ing.HandleInbound)
		r.Post("/status", ing.HandleStatus)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/trigger", h.TriggerCampaign)
			r.Post("/pause", h.PauseCampaign)
			r.Post("/reset", h.ResetCampaign)
			r.Get("/summary", h.CampaignSummary)
		})
		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/dashboard", h.MonitoringDashboard)
			r.Get("/inbound", h.RecentInbound)
		})
	})

	return r
}
