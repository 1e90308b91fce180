// Package domain contains core domain types for the proactive intervention service.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of learner signal.
type EventType string

const (
	// EventQuizFailure is a failed quiz attempt. Strong signal when the score is low.
	EventQuizFailure EventType = "quiz_failure"
	// EventHelpRequest is an explicit request for help. Weak signal on its own.
	EventHelpRequest EventType = "help_request"
	// EventSessionTimeout is an idle session that timed out. Weak signal.
	EventSessionTimeout EventType = "session_timeout"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventQuizFailure, EventHelpRequest, EventSessionTimeout:
		return true
	}
	return false
}

// QuizDetails carries the fields meaningful for quiz_failure events.
type QuizDetails struct {
	Score     *float64 `json:"quiz_score,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
	TimeSpent float64  `json:"time_spent,omitempty"`
}

// HelpDetails carries the fields meaningful for help_request events.
type HelpDetails struct {
	Question string `json:"question,omitempty"`
}

// TimeoutDetails carries the fields meaningful for session_timeout events.
type TimeoutDetails struct {
	IdleSeconds float64 `json:"idle_seconds,omitempty"`
}

// Event is one observed learner signal. Treat it as immutable once built.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"event_type"`
	Topic     string          `json:"topic"`
	Quiz      *QuizDetails    `json:"quiz,omitempty"`
	Help      *HelpDetails    `json:"help,omitempty"`
	Timeout   *TimeoutDetails `json:"timeout,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event and derives the typed per-kind details from the
// loosely typed metadata bag delivered by HTTP callers and webhooks.
func NewEvent(userID string, eventType EventType, topic string, metadata map[string]any, ts time.Time) Event {
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := Event{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		Type:      eventType,
		Topic:     strings.TrimSpace(topic),
		Metadata:  cloneMetadata(metadata),
		Timestamp: ts,
	}

	switch eventType {
	case EventQuizFailure:
		q := &QuizDetails{}
		if score, ok := metaFloat(metadata, "quiz_score", "score"); ok {
			q.Score = &score
		}
		if attempts, ok := metaFloat(metadata, "attempts"); ok {
			q.Attempts = int(attempts)
		}
		if spent, ok := metaFloat(metadata, "time_spent"); ok {
			q.TimeSpent = spent
		}
		ev.Quiz = q
	case EventHelpRequest:
		ev.Help = &HelpDetails{Question: metaString(metadata, "question", "message")}
	case EventSessionTimeout:
		t := &TimeoutDetails{}
		if idle, ok := metaFloat(metadata, "idle_seconds", "idle_time"); ok {
			t.IdleSeconds = idle
		}
		ev.Timeout = t
	}
	return ev
}

// QuizScore returns the quiz score when the event carries one.
func (e Event) QuizScore() (float64, bool) {
	if e.Quiz == nil || e.Quiz.Score == nil {
		return 0, false
	}
	return *e.Quiz.Score, true
}

// Validate checks the event before any memory mutation happens.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "event_type", Reason: "unknown event type " + strconv.Quote(string(e.Type))}
	}
	if strings.TrimSpace(e.Topic) == "" {
		return &ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	return nil
}

// Record converts the event into the entry kept in the learner's history.
func (e Event) Record() StruggleRecord {
	return StruggleRecord{
		EventID:   e.ID,
		Type:      e.Type,
		Topic:     e.Topic,
		Quiz:      e.Quiz,
		Metadata:  e.Metadata,
		Timestamp: e.Timestamp,
	}
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func metaFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func metaString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}
