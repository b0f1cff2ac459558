package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/config"
)

// SetupRoutes configures all routes. The /api subtree carries the
// session auth middleware; /auth, /health, and /webhooks do not.
func SetupRoutes(h *Handlers, authSvc *auth.Service, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Inbound webhooks authenticate with provider basic-auth, not user
	// sessions.
	r.Post("/webhooks/inbound", h.InboundWebhook)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/magic-link", h.RequestMagicLink)
		r.Post("/verify", h.VerifyMagicLink)
	})

	devEmail := ""
	if cfg.Auth.DisableAuthForDev {
		devEmail = "dev@localhost"
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authSvc.Middleware(devEmail))

		r.Get("/me", h.CurrentUser)
		r.Put("/me/profile", h.UpdateProfile)
		r.Get("/worker/stats", h.WorkerStats)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)

				r.Post("/launch", h.LaunchCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/duplicate", h.DuplicateCampaign)

				r.Post("/tags", h.AddTag)
				r.Delete("/tags/{tag}", h.RemoveTag)

				r.Get("/next-send", h.NextSend)
				r.Post("/send-now", h.SendNow)
				r.Get("/steps/summary", h.StepSummary)
				r.Post("/jobs/{jobID}/retry", h.RetryJob)
				r.Post("/jobs/retry-all", h.RetryAllFailed)

				r.Route("/leads", func(r chi.Router) {
					r.Get("/", h.ListLeads)
					r.Post("/", h.AddLead)
					r.Get("/{leadID}/email-history", h.EmailHistory)
					r.Post("/{leadID}/mark-replied", h.MarkReplied)
				})

				r.Route("/templates", func(r chi.Router) {
					r.Get("/", h.ListTemplates)
					r.Post("/", h.AddTemplate)
				})
			})
		})
	})

	return r
}
