package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the authenticated API router.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.AuthMiddleware)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.CreateSubscription)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSubscription)
			r.Patch("/", h.UpdateSubscription)
			r.Delete("/", h.DeleteSubscription)
			r.Post("/pause", h.PauseSubscription)
			r.Post("/reactivate", h.ReactivateSubscription)
			r.Post("/convert-trial", h.ConvertTrial)
			r.Get("/credentials", h.RevealCredentials)
			r.Get("/countdown", h.GetCountdown)
		})
	})

	r.Get("/stats", h.GetStatistics)
	r.Get("/insights", h.GetInsights)
	r.Get("/alerts", h.GetAlerts)
	r.Post("/alerts/{id}/dismiss", h.DismissAlert)
	r.Get("/gamification", h.GetGamification)
	r.Get("/reminders", h.GetReminders)

	return r
}
