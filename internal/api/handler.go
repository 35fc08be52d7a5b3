// Package api is the collaborator-facing HTTP surface: message submission
// with admission control, message and moderation queries, health and the
// realtime upgrade endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/ban"
	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/deadletter"
	"github.com/eventhub/chat-moderation/internal/discipline"
	"github.com/eventhub/chat-moderation/internal/modlog"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/ratelimit"
	"github.com/eventhub/chat-moderation/internal/report"
)

// UserHeader identifies the caller. Authentication happens upstream.
const UserHeader = "X-User-ID"

// DefaultEnqueueTimeout bounds how long a send waits on a full queue.
const DefaultEnqueueTimeout = 2 * time.Second

// MuteChecker reports active channel mutes. *ban.Store implements it.
type MuteChecker interface {
	IsMuted(ctx context.Context, userID string, ch chat.Channel) (*ban.Mute, error)
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

// Deps wires a Handler. Everything below Discipline is optional; the admin
// routes for reports, mutes and dead letters are mounted only when their
// store is set.
type Deps struct {
	Repository chat.Repository
	Limiter    ratelimit.Limiter
	Queue      queue.Enqueuer
	Logs       modlog.Store
	Discipline discipline.Store

	Mutes          MuteChecker
	EnqueueTimeout time.Duration
	QueueDepth     func() int
	Checks         map[string]HealthCheck
	Realtime       http.Handler

	Reports     report.Reviewer
	MuteAdmin   MuteAdmin
	DeadLetters deadletter.Reader

	Logger zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	deps Deps
	log  zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	if deps.EnqueueTimeout <= 0 {
		deps.EnqueueTimeout = DefaultEnqueueTimeout
	}
	return &Handler{
		deps: deps,
		log:  deps.Logger.With().Str("component", "api").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug().Err(err).Msg("write response failed")
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func viewer(r *http.Request) string {
	return r.Header.Get(UserHeader)
}
