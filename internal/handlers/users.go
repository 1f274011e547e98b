package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api/middleware"
)

const maxBulkLookup = 50

// UserResult represents a user in search results.
type UserResult struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SearchUsers handles user search by name or email fragment.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "q is required")
		return
	}

	users, err := h.store.SearchUsers(r.Context(), query, me.ID, 20)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	results := make([]UserResult, 0, len(users))
	for _, u := range users {
		results = append(results, UserResult{
			ID:    u.ID.String(),
			Name:  u.Name,
			Email: u.Email,
		})
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"users": results})
}

// ListUsers resolves a comma-separated ids query parameter into user
// records. Unknown IDs are skipped, not errors, so clients can refresh a
// participant list without tripping over deleted accounts.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		h.Error(w, http.StatusBadRequest, "ids is required")
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxBulkLookup {
		h.Error(w, http.StatusBadRequest, "too many ids")
		return
	}

	results := make([]UserResult, 0, len(parts))
	seen := make(map[uuid.UUID]bool, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid user id")
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
			continue
		}
		results = append(results, UserResult{
			ID:    u.ID.String(),
			Name:  u.Name,
			Email: u.Email,
		})
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"users": results})
}
