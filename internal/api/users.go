package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/store"
)

const defaultInterventionLimit = 50

// HandleListUsers handles GET /users.
func (h *Handler) HandleListUsers(w http.ResponseWriter, _ *http.Request) {
	users := h.memory.List()
	JSON(w, http.StatusOK, map[string]any{
		"users":       users,
		"total_count": len(users),
	})
}

// HandleProfile handles GET /users/{userID}/profile.
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	profile, err := h.memory.Profile(userID, h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, profile)
}

// HandleInterventions handles GET /users/{userID}/interventions from the audit log.
func (h *Handler) HandleInterventions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusServiceUnavailable, "intervention log not configured")
		return
	}
	userID := chi.URLParam(r, "userID")

	limit := defaultInterventionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	items, err := h.repo.ListInterventions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []store.Intervention{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"interventions": items,
		"total_count":   len(items),
	})
}

// HandleReset handles POST /users/{userID}/reset. With ?purge=true the
// learner's audit log entries are deleted as well.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.memory.Reset(userID); err != nil {
		h.writeError(w, err)
		return
	}
	if h.bus != nil {
		h.bus.Forget(userID)
	}

	resp := map[string]any{"message": "User " + userID + " profile reset successfully"}
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge && h.repo != nil {
		n, err := h.repo.DeleteUserInterventions(r.Context(), userID)
		if err != nil {
			h.logger.Warn("failed to purge intervention log", "user_id", userID, "error", err)
		} else {
			resp["purged_interventions"] = n
		}
	}

	h.logger.Info("user memory reset", "user_id", userID)
	JSON(w, http.StatusOK, resp)
}
