package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/records", s.ingestRecords)
			r.Post("/aggregate", s.runAggregate)
			r.Post("/detect", s.runDetect)
			r.Post("/evaluate", s.evaluateTenant)
			r.Post("/dispatch", s.dispatchPending)
			r.Get("/signals", s.listSignals)
			r.Get("/events", s.listPendingEvents)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.listRules)
				r.Post("/", s.createRule)
			})
			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.listChannels)
				r.Post("/", s.createChannel)
			})
			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.listWebhookEndpoints)
				r.Post("/", s.createWebhookEndpoint)
				r.Post("/fanout", s.fanoutWebhooks)
			})
		})

		r.Route("/rules/{id}", func(r chi.Router) {
			r.Get("/", s.getRule)
			r.Put("/", s.updateRule)
			r.Delete("/", s.deleteRule)
			r.Put("/enabled", s.setRuleEnabled)
		})

		r.Route("/channels/{id}", func(r chi.Router) {
			r.Get("/", s.getChannel)
			r.Put("/", s.updateChannel)
			r.Delete("/", s.deleteChannel)
		})

		r.Route("/signals/{id}", func(r chi.Router) {
			r.Get("/", s.getSignal)
			r.Post("/evaluate", s.evaluateSignal)
		})

		r.Route("/events/{id}", func(r chi.Router) {
			r.Get("/", s.getEvent)
			r.Post("/dispatch", s.dispatchEvent)
			r.Post("/judgments", s.submitJudgment)
			r.Get("/suppression-context", s.suppressionContext)
			r.Get("/audit", s.listEventAudit)
		})

		r.Route("/webhooks/{id}", func(r chi.Router) {
			r.Get("/", s.getWebhookEndpoint)
			r.Put("/", s.updateWebhookEndpoint)
		})
		r.Post("/deliveries/{id}/retry", s.retryDelivery)
		r.Get("/deliveries/{id}", s.getDelivery)
		r.Post("/webhooks/sweep", s.sweepWebhooks)

		r.Route("/flags", func(r chi.Router) {
			r.Put("/{name}", s.upsertFlag)
			r.Get("/{name}/enabled", s.flagEnabled)
			r.Post("/{name}/overrides", s.setFlagOverride)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})

	return r
}
