package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/metrics"
)

// SendRequest is the body of a send.
type SendRequest struct {
	Content string `json:"content"`
}

// RejectedResponse is returned for 403 and 429 admission rejections.
type RejectedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// SendMessage admits, stores and enqueues a message. The response carries
// the message in its Held state; the outcome arrives over the realtime
// connection.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := viewer(r)
	if !chat.ValidUserID(userID) {
		h.Error(w, http.StatusUnauthorized, "missing or invalid "+UserHeader)
		return
	}
	ch, err := chat.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, chat.MaxContentBytes*2)).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := chat.ValidateContent(req.Content); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	log := h.log.With().Str("user_id", userID).Str("channel", string(ch)).Logger()

	if h.deps.Mutes != nil {
		mute, err := h.deps.Mutes.IsMuted(ctx, userID, ch)
		if err != nil {
			// Fail open, like the limiter.
			log.Warn().Err(err).Msg("mute check failed")
		} else if mute != nil {
			secs := int(mute.Remaining.Seconds())
			if secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			h.JSON(w, http.StatusForbidden, RejectedResponse{
				Error:      "muted on " + string(ch) + " channel: " + mute.Reason,
				RetryAfter: secs,
			})
			return
		}
	}

	// Limiters fail open and report the error alongside their verdict.
	res, err := h.deps.Limiter.CheckQuota(ctx, userID, ch)
	if err != nil {
		log.Warn().Err(err).Msg("rate limit check failed")
	}
	if !res.Allowed {
		metrics.RateLimited.WithLabelValues(string(ch)).Inc()
		secs := res.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.JSON(w, http.StatusTooManyRequests, RejectedResponse{Error: res.Message, RetryAfter: secs})
		return
	}

	msg := chat.NewHeldMessage(ch, userID, req.Content)
	if err := h.deps.Repository.AddMessage(ctx, msg); err != nil {
		log.Error().Err(err).Msg("store message failed")
		h.Error(w, http.StatusInternalServerError, "could not store message")
		return
	}

	enqCtx, cancel := context.WithTimeout(ctx, h.deps.EnqueueTimeout)
	defer cancel()
	if err := h.deps.Queue.Enqueue(enqCtx, chat.WorkItemFor(msg)); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("enqueue failed, message stays held")
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Client went away; nobody reads the response.
			status = http.StatusRequestTimeout
		}
		h.Error(w, status, "moderation is busy, try again")
		return
	}

	log.Debug().Str("message_id", msg.ID).Msg("message accepted")
	h.JSON(w, http.StatusAccepted, msg)
}

// ListMessages returns a channel's messages oldest first as seen by the
// caller: everyone sees published messages, senders also see their own.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ch, err := chat.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return
	}
	msgs, err := h.deps.Repository.GetMessages(r.Context(), ch)
	if err != nil {
		h.log.Error().Err(err).Str("channel", string(ch)).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	who := viewer(r)
	visible := make([]chat.Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].VisibleTo(who) {
			visible = append(visible, msgs[i])
		}
	}
	h.JSON(w, http.StatusOK, map[string]any{"channel": ch, "messages": visible})
}

// GetMessage returns one message if the caller may see it.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.deps.Repository.GetMessage(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("get message failed")
		h.Error(w, http.StatusInternalServerError, "could not load message")
		return
	}
	if msg == nil || !msg.VisibleTo(viewer(r)) {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	h.JSON(w, http.StatusOK, msg)
}
