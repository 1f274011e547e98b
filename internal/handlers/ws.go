package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api/middleware"
)

// ServeWS upgrades the connection and attaches the caller to the relay.
// The session joins every conversation the user belongs to at connect
// time; conversations created afterwards are covered by polling until
// the client reconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convs, err := h.store.ListConversationsForUser(r.Context(), me.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	convIDs := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		convIDs[i] = c.ID
	}

	if err := h.relay.ServeWS(w, r, me.ID, convIDs); err != nil {
		h.logger.Warn().Err(err).
			Str("user_id", me.ID.String()).
			Msg("websocket upgrade failed")
	}
}
