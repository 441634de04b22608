package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/openfoia/case-engine/internal/auth"
)

// SetupRoutes builds the router. The webhook and health check sit outside the
// session guard; everything under /api/v1 requires a reviewer session when
// auth is enabled.
func SetupRoutes(h *Handlers, authManager *auth.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(authManager.RequireAuth)

	r.Get("/health", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authManager.HandleLogin)
		r.Get("/callback", authManager.HandleCallback)
		r.Get("/logout", authManager.HandleLogout)
		r.Get("/me", authManager.HandleWhoAmI)
	})

	r.Post("/webhooks/email", h.InboundEmailWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", h.CreateCase(authManager))
			r.Get("/", h.ListCases)
			r.Get("/{id}", h.GetCase)
			r.Get("/{id}/messages", h.ListCaseMessages)
			r.Get("/{id}/run", h.LatestCaseRun)
			r.Get("/{id}/snapshot", h.CaseSnapshot)
			r.Post("/{id}/run", h.TriggerCaseRun)
		})

		r.Post("/proposals/{id}/decision", h.DecideProposal(authManager))

		r.Get("/runs/{id}", h.GetRun)

		r.Route("/escalations", func(r chi.Router) {
			r.Get("/", h.ListEscalations)
			r.Post("/{id}/ack", h.AcknowledgeEscalation)
		})

		r.Route("/portal-tasks", func(r chi.Router) {
			r.Get("/", h.ListPortalTasks)
			r.Post("/{id}/claim", h.ClaimPortalTask(authManager))
			r.Post("/{id}/complete", h.CompletePortalTask)
		})

		r.Get("/workers", h.ListWorkers)
	})

	return r
}
