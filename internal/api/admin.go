package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/report"
)

const (
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultReportWindow = 24 * time.Hour
)

// MuteAdmin lets operators inspect and lift mutes. *ban.Store implements it.
type MuteAdmin interface {
	MuteChecker
	OffenseCount(ctx context.Context, userID string, ch chat.Channel) (int, error)
	Unmute(ctx context.Context, userID string, ch chat.Channel) error
}

// MuteStatus is the operator view of a user's mute state on one channel.
type MuteStatus struct {
	UserID     string       `json:"user_id"`
	Channel    chat.Channel `json:"channel"`
	Muted      bool         `json:"muted"`
	Reason     string       `json:"reason,omitempty"`
	RetryAfter int          `json:"retry_after,omitempty"`
	Offenses   int          `json:"offenses"`
}

func listLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxListLimit), true
}

// OpenReports lists unresolved abuse reports, oldest first.
func (h *Handler) OpenReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	reports, err := h.deps.Reports.ListOpen(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list reports failed")
		h.Error(w, http.StatusInternalServerError, "could not load reports")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ResolveReport closes an abuse report.
func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid report id")
		return
	}
	err = h.deps.Reports.Resolve(r.Context(), id)
	switch {
	case errors.Is(err, report.ErrNotFound):
		h.Error(w, http.StatusNotFound, "report not found")
		return
	case err != nil:
		h.log.Error().Err(err).Int64("report_id", id).Msg("resolve report failed")
		h.Error(w, http.StatusInternalServerError, "could not resolve report")
		return
	}
	h.log.Info().Int64("report_id", id).Str("by", viewer(r)).Msg("report resolved")
	w.WriteHeader(http.StatusNoContent)
}

// UserReports counts reports filed against a user within ?window= (default 24h).
func (h *Handler) UserReports(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	window := defaultReportWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	n, err := h.deps.Reports.CountRecent(r.Context(), user, window)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user).Msg("count reports failed")
		h.Error(w, http.StatusInternalServerError, "could not count reports")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"user_id": user,
		"window":  window.String(),
		"reports": n,
	})
}

func (h *Handler) muteTarget(w http.ResponseWriter, r *http.Request) (string, chat.Channel, bool) {
	ch, err := chat.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return "", "", false
	}
	user := chi.URLParam(r, "user")
	if !chat.ValidUserID(user) {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return "", "", false
	}
	return user, ch, true
}

// GetMute reports whether a user is muted on a channel and how many
// offenses count towards the next mute.
func (h *Handler) GetMute(w http.ResponseWriter, r *http.Request) {
	user, ch, ok := h.muteTarget(w, r)
	if !ok {
		return
	}
	mute, err := h.deps.MuteAdmin.IsMuted(r.Context(), user, ch)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user).Str("channel", string(ch)).Msg("mute lookup failed")
		h.Error(w, http.StatusInternalServerError, "could not load mute")
		return
	}
	offenses, err := h.deps.MuteAdmin.OffenseCount(r.Context(), user, ch)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user).Str("channel", string(ch)).Msg("offense lookup failed")
		h.Error(w, http.StatusInternalServerError, "could not load mute")
		return
	}

	status := MuteStatus{UserID: user, Channel: ch, Offenses: offenses}
	if mute != nil {
		status.Muted = true
		status.Reason = mute.Reason
		status.RetryAfter = int(mute.Remaining.Seconds())
	}
	h.JSON(w, http.StatusOK, status)
}

// Unmute lifts an active mute. The offense counter is left alone.
func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	user, ch, ok := h.muteTarget(w, r)
	if !ok {
		return
	}
	if err := h.deps.MuteAdmin.Unmute(r.Context(), user, ch); err != nil {
		h.log.Error().Err(err).Str("user_id", user).Str("channel", string(ch)).Msg("unmute failed")
		h.Error(w, http.StatusInternalServerError, "could not unmute")
		return
	}
	h.log.Info().Str("user_id", user).Str("channel", string(ch)).Str("by", viewer(r)).Msg("user unmuted")
	w.WriteHeader(http.StatusNoContent)
}

// DeadLetters lists the most recent work items the worker gave up on.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	letters, err := h.deps.DeadLetters.Recent(r.Context(), int64(limit))
	if err != nil {
		h.log.Error().Err(err).Msg("list dead letters failed")
		h.Error(w, http.StatusInternalServerError, "could not load dead letters")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"letters": letters})
}
