package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
)

const defaultPageLimit = 200

// PostMessageRequest represents the message creation body.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage persists a message and pushes it to connected participants.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.coord.RecordAndDeliver(r.Context(), convID, me.ID, req.Content)
	if err != nil {
		h.deliveryError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages returns the full message history of a conversation.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, r.URL.Query().Get("after"))
}

// PollMessages returns messages newer than the caller's cursor. Clients
// call this periodically with the ID of the last message they have seen.
func (h *Handler) PollMessages(w http.ResponseWriter, r *http.Request) {
	metrics.PollRequests.Inc()
	h.fetch(w, r, r.URL.Query().Get("lastMessageId"))
}

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request, afterID string) {
	me := middleware.GetUserFromContext(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			h.Error(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	msgs, err := h.coord.FetchSince(r.Context(), convID, me.ID, afterID, limit)
	if err != nil {
		h.deliveryError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// DeleteMessage removes a message. Allowed for the sender, or for a group
// admin. There is no retraction push; other clients converge on refetch.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if err := h.coord.RemoveMessage(r.Context(), convID, me.ID, messageID); err != nil {
		h.deliveryError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// deliveryError maps coordinator sentinel errors to HTTP responses.
func (h *Handler) deliveryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delivery.ErrInvalidContent):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, delivery.ErrNotAParticipant):
		h.Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, delivery.ErrMessageNotFound):
		h.Error(w, http.StatusNotFound, "message not found")
	case errors.Is(err, delivery.ErrNotAllowed):
		h.Error(w, http.StatusForbidden, "not allowed")
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
