// Package store persists the intervention audit log.
package store

import (
	"context"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// Intervention is one persisted intervention attempt.
type Intervention struct {
	ID        string           `json:"intervention_id"`
	EventID   string           `json:"event_id"`
	UserID    string           `json:"user_id"`
	Topic     string           `json:"topic"`
	Action    domain.Action    `json:"action"`
	Reason    domain.Reason    `json:"reason"`
	Message   string           `json:"user_message,omitempty"`
	Artifact  *domain.Artifact `json:"artifact,omitempty"`
	RawOutput string           `json:"raw_output,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Repository defines the interface for the intervention log. It is an audit
// trail; learner memory never reads from it.
type Repository interface {
	// SaveIntervention appends an attempted intervention.
	SaveIntervention(ctx context.Context, res domain.Result) error

	// ListInterventions returns a learner's interventions, newest first.
	// A non-positive limit returns all of them.
	ListInterventions(ctx context.Context, userID string, limit int) ([]Intervention, error)

	// DeleteUserInterventions removes a learner's log entries.
	DeleteUserInterventions(ctx context.Context, userID string) (int64, error)

	// CountInterventions counts log entries by action.
	CountInterventions(ctx context.Context) (map[domain.Action]int64, error)

	// CleanupOlderThan removes entries older than ttl.
	CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
