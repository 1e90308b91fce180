package api

import (
	"net/http"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// HandleRoot handles GET /.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"message": "Proactive learning agent is running",
		"status":  "healthy",
	})
}

type statusResponse struct {
	Status             string `json:"status"`
	TotalUsers         int    `json:"total_users"`
	TotalEvents        int    `json:"total_events"`
	TotalInterventions int    `json:"total_interventions"`
	Uptime             string `json:"uptime"`
	APIVersion         string `json:"api_version"`
	Database           string `json:"database,omitempty"`

	// InterventionsByAction counts logged attempts per action since the
	// retention cutoff.
	InterventionsByAction map[domain.Action]int64 `json:"interventions_by_action,omitempty"`
}

// HandleStatus handles GET /status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	totals := h.memory.Totals()
	resp := statusResponse{
		Status:             "operational",
		TotalUsers:         totals.Users,
		TotalEvents:        totals.Events,
		TotalInterventions: totals.Interventions,
		Uptime:             h.now().Sub(h.startedAt).Round(time.Second).String(),
		APIVersion:         APIVersion,
	}
	if h.repo != nil {
		resp.Database = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			h.logger.Warn("database ping failed", "error", err)
			resp.Database = "unavailable"
			resp.Status = "degraded"
		} else if counts, err := h.repo.CountInterventions(r.Context()); err != nil {
			h.logger.Warn("failed to count logged interventions", "error", err)
		} else {
			resp.InterventionsByAction = counts
		}
	}
	JSON(w, http.StatusOK, resp)
}
