package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/notify"
)

// HandleStream handles GET /users/{userID}/stream, pushing created
// interventions to the learner as server-sent events. Clients reconnecting
// with Last-Event-ID receive buffered messages they missed.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		Error(w, http.StatusServiceUnavailable, "streaming not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		Error(w, http.StatusBadRequest, "user id is required")
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}

	missed, live, cancel := h.bus.Subscribe(userID, lastEventID)
	defer func() {
		cancel()
		h.logger.Info("SSE connection closed", "user_id", userID)
	}()

	for _, msg := range missed {
		if err := writeMessage(w, msg); err != nil {
			h.logger.Warn("failed to replay SSE message", "error", err, "user_id", userID)
			return
		}
	}
	if err := writeSSE(w, "connected", fmt.Sprintf(`{"status":"connected","user_id":%q,"replayed":%d}`, userID, len(missed))); err != nil {
		h.logger.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE connection established",
		"user_id", userID,
		"reconnect", lastEventID > 0,
		"replayed", len(missed),
	)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-live:
			if !ok {
				return
			}
			if err := writeMessage(w, msg); err != nil {
				h.logger.Warn("failed to write SSE message", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeMessage(w io.Writer, msg notify.Message) error {
	data, err := json.Marshal(msg.Result)
	if err != nil {
		return err
	}
	return writeSSEWithID(w, msg.ID, "intervention", string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
