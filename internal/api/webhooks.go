package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/engine"
)

var quizRequiredFields = []string{"user_id", "quiz_topic", "score"}

// HandleQuizCompleted handles POST /webhooks/quiz-completed. Only failing
// scores are queued for processing; the webhook is acknowledged either way.
func (h *Handler) HandleQuizCompleted(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !h.decodeBody(w, r, &data) {
		return
	}
	for _, field := range quizRequiredFields {
		if _, ok := data[field]; !ok {
			Error(w, http.StatusBadRequest, "missing required fields: "+strings.Join(quizRequiredFields, ", "))
			return
		}
	}

	score, err := toFloat(data["score"])
	if err != nil {
		Error(w, http.StatusBadRequest, "score must be a number")
		return
	}
	userID := stringField(data, "user_id")
	if !h.allow(w, "/webhooks/quiz-completed", userID) {
		return
	}

	willProcess := score < h.quizFailThreshold
	if willProcess {
		attempts := 1.0
		if v, err := toFloat(data["attempts"]); err == nil {
			attempts = v
		}
		spent := 0.0
		if v, err := toFloat(data["time_spent"]); err == nil {
			spent = v
		}
		ev := domain.NewEvent(userID, domain.EventQuizFailure, stringField(data, "quiz_topic"), map[string]any{
			"quiz_score": score,
			"attempts":   attempts,
			"time_spent": spent,
		}, h.now())
		if !h.enqueue(w, ev) {
			return
		}
	}

	JSON(w, http.StatusOK, map[string]any{"status": "received", "will_process": willProcess})
}

// HandleHelpRequest handles POST /webhooks/help-request.
func (h *Handler) HandleHelpRequest(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !h.decodeBody(w, r, &data) {
		return
	}
	userID := stringField(data, "user_id")
	if !h.allow(w, "/webhooks/help-request", userID) {
		return
	}

	metadata, _ := data["metadata"].(map[string]any)
	ev := domain.NewEvent(userID, domain.EventHelpRequest, stringField(data, "topic"), metadata, h.now())
	if !h.enqueue(w, ev) {
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// enqueue validates ev and hands it to the dispatcher.
func (h *Handler) enqueue(w http.ResponseWriter, ev domain.Event) bool {
	if err := ev.Validate(); err != nil {
		h.writeError(w, err)
		return false
	}
	if h.dispatcher == nil {
		Error(w, http.StatusServiceUnavailable, "background processing not configured")
		return false
	}
	if err := h.dispatcher.Submit(ev); err != nil {
		if errors.Is(err, engine.ErrQueueFull) && h.observer != nil {
			h.observer.RecordDispatchDropped()
		}
		h.logger.Warn("failed to queue webhook event", "user_id", ev.UserID, "event_type", ev.Type, "error", err)
		h.writeError(w, err)
		return false
	}
	return true
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
