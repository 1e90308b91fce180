package domain

import "time"

// Reason explains an intervention decision.
type Reason string

const (
	ReasonRepeatedTopicStruggle    Reason = "repeated_topic_struggle"
	ReasonStruggleCountThreshold   Reason = "struggle_count_threshold"
	ReasonSingleSignalInsufficient Reason = "single_signal_insufficient"
	ReasonCooldownActive           Reason = "cooldown_active"
	// ReasonQuizScoreBelowThreshold is the single strong-signal rule.
	ReasonQuizScoreBelowThreshold Reason = "quiz_score_below_threshold"
)

// Decision is the output of the intervention policy.
type Decision struct {
	ShouldIntervene bool   `json:"should_intervene"`
	Reason          Reason `json:"reason"`
	// Topic is the topic an intervention targets; always the triggering event's topic.
	Topic string `json:"topic,omitempty"`
}

// Action is the outcome reported for a processed event.
type Action string

const (
	ActionInterventionCreated     Action = "intervention_created"
	ActionInterventionFailed      Action = "intervention_failed"
	ActionInterventionUnparseable Action = "intervention_failed_unparseable"
	ActionMonitoring              Action = "monitoring"
)

// Result is the record returned for every processed event.
type Result struct {
	InterventionID string    `json:"intervention_id,omitempty"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	Topic          string    `json:"topic"`
	Action         Action    `json:"action"`
	Reason         Reason    `json:"reason"`
	UserMessage    string    `json:"user_message,omitempty"`
	Artifact       *Artifact `json:"artifact,omitempty"`
	RawOutput      string    `json:"raw_output,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Attempted reports whether the result stems from a triggered intervention.
func (r Result) Attempted() bool {
	return r.Action != ActionMonitoring && r.Action != ""
}
