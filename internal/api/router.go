package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eventhub/chat-moderation/internal/api/middleware"
	"github.com/eventhub/chat-moderation/internal/metrics"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(h.deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())
	if h.deps.Realtime != nil {
		r.Handle("/ws", h.deps.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/channels/{channel}/messages", h.SendMessage)
		r.Get("/channels/{channel}/messages", h.ListMessages)
		r.Get("/channels/{channel}/moderation-logs", h.ChannelLogs)
		r.Get("/messages/{id}", h.GetMessage)
		r.Get("/messages/{id}/moderation-log", h.MessageLog)
		r.Get("/discipline/{user}/{channel}", h.Discipline)

		r.Route("/admin", func(r chi.Router) {
			if h.deps.Reports != nil {
				r.Get("/reports", h.OpenReports)
				r.Post("/reports/{id}/resolve", h.ResolveReport)
				r.Get("/users/{user}/reports", h.UserReports)
			}
			if h.deps.MuteAdmin != nil {
				r.Get("/mutes/{user}/{channel}", h.GetMute)
				r.Delete("/mutes/{user}/{channel}", h.Unmute)
			}
			if h.deps.DeadLetters != nil {
				r.Get("/dead-letters", h.DeadLetters)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.Error(w, http.StatusNotFound, "not found")
	})
	return r
}
