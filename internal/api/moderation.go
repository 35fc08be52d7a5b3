package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/modlog"
)

// ChannelLogs returns the moderation log of a channel.
func (h *Handler) ChannelLogs(w http.ResponseWriter, r *http.Request) {
	ch, err := chat.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return
	}
	entries, err := h.deps.Logs.Query(r.Context(), ch)
	if err != nil {
		h.log.Error().Err(err).Str("channel", string(ch)).Msg("query moderation log failed")
		h.Error(w, http.StatusInternalServerError, "could not load moderation log")
		return
	}
	if entries == nil {
		entries = []modlog.Entry{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"channel": ch, "entries": entries})
}

// MessageLog returns the moderation log entry of one message.
func (h *Handler) MessageLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.deps.Logs.GetByMessageID(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("get moderation log failed")
		h.Error(w, http.StatusInternalServerError, "could not load moderation log")
		return
	}
	if entry == nil {
		h.Error(w, http.StatusNotFound, "no moderation log for message")
		return
	}
	h.JSON(w, http.StatusOK, entry)
}

// Discipline returns a user's ledger on a channel. Users without history get
// a zero balance.
func (h *Handler) Discipline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	if !chat.ValidUserID(userID) {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ch, err := chat.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return
	}
	d, err := h.deps.Discipline.Get(r.Context(), userID, ch)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("channel", string(ch)).Msg("get discipline failed")
		h.Error(w, http.StatusInternalServerError, "could not load discipline")
		return
	}
	h.JSON(w, http.StatusOK, d)
}
