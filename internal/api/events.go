package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

type eventRequest struct {
	EventID   string         `json:"event_id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Topic     string         `json:"topic"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp *time.Time     `json:"timestamp"`
}

// HandleEvent handles POST /events. The event is evaluated synchronously and
// the intervention result is returned.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.allow(w, "/events", strings.TrimSpace(req.UserID)) {
		return
	}

	ts := h.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = *req.Timestamp
	}
	ev := domain.NewEvent(req.UserID, domain.EventType(req.EventType), req.Topic, req.Metadata, ts)
	if id := strings.TrimSpace(req.EventID); id != "" {
		ev.ID = id
	}

	// A client hanging up must not discard a lesson that is already being
	// generated; the generator timeout bounds the call instead.
	res, err := h.engine.Process(context.WithoutCancel(r.Context()), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("event processed",
		"user_id", res.UserID,
		"event_type", ev.Type,
		"topic", ev.Topic,
		"action", res.Action,
		"reason", res.Reason,
	)
	JSON(w, http.StatusOK, res)
}

// HandleGenerateArtifact handles POST /generate-artifact?topic=.
func (h *Handler) HandleGenerateArtifact(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	art, raw, err := h.engine.GenerateArtifact(r.Context(), topic)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("artifact generation failed", "topic", topic, "error", err)
		}
		body := map[string]string{"error": "failed to generate artifact: " + err.Error()}
		if raw != "" {
			body["raw_output"] = raw
		}
		JSON(w, status, body)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"topic":        strings.TrimSpace(topic),
		"artifact":     art,
		"generated_at": h.now().UTC(),
	})
}
