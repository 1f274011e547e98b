package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api/middleware"
)

// CreateConversationRequest represents the conversation creation body.
type CreateConversationRequest struct {
	Name    string   `json:"name"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
}

// CreateConversation handles conversation creation. Direct (1:1)
// conversations are deduplicated: creating one that already exists
// returns the existing conversation.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Members) == 0 {
		h.Error(w, http.StatusBadRequest, "members is required")
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.Members))
	seen := map[uuid.UUID]bool{me.ID: true}
	for _, m := range req.Members {
		id, err := uuid.Parse(m)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid member id")
			return
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		u, err := h.store.GetUserByID(r.Context(), id)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if u == nil {
			h.Error(w, http.StatusBadRequest, "unknown member id")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	if len(memberIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "conversation needs at least one other member")
		return
	}

	name := sanitizeName(req.Name)
	if req.IsGroup && name == "" {
		h.Error(w, http.StatusBadRequest, "group conversations need a name")
		return
	}

	if !req.IsGroup {
		if len(memberIDs) != 1 {
			h.Error(w, http.StatusBadRequest, "direct conversations have exactly two participants")
			return
		}
		existing, err := h.store.FindDirectConversation(r.Context(), me.ID, memberIDs[0])
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if existing != nil {
			h.JSON(w, http.StatusOK, existing)
			return
		}
	}

	conv, err := h.store.CreateConversation(r.Context(), name, req.IsGroup, me.ID, memberIDs)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.JSON(w, http.StatusCreated, conv)
}

// ListConversations returns the caller's conversations, most recently
// updated first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convs, err := h.store.ListConversationsForUser(r.Context(), me.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

// GetConversation returns a single conversation the caller belongs to.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	ok, err := h.store.IsParticipant(r.Context(), convID, me.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !ok {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv, err := h.store.GetConversation(r.Context(), convID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.JSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation and its messages. Group
// conversations can only be deleted by an admin; direct conversations
// by either participant.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	ok, err := h.store.IsParticipant(r.Context(), convID, me.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !ok {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv, err := h.store.GetConversation(r.Context(), convID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if conv.IsGroup {
		admin, err := h.store.IsAdmin(r.Context(), convID, me.ID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if !admin {
			h.Error(w, http.StatusForbidden, "only an admin can delete a group conversation")
			return
		}
	}

	if err := h.store.DeleteConversation(r.Context(), convID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
