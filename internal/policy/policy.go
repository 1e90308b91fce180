// Package policy decides when accumulated struggle warrants an intervention.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// Config holds the tunable thresholds of the intervention policy.
type Config struct {
	// FailureThreshold is the quiz score below which a single failure triggers.
	FailureThreshold float64 `koanf:"failure_threshold"`
	// RecencyWindow bounds how far back prior signals count as "recent".
	RecencyWindow time.Duration `koanf:"recency_window"`
	// Cooldown suppresses re-triggering on the same topic after an intervention.
	Cooldown time.Duration `koanf:"cooldown"`
	// StruggleCountThreshold is the number of recent struggles, across all
	// topics, that triggers on a weak signal.
	StruggleCountThreshold int `koanf:"struggle_count_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       0.6,
		RecencyWindow:          time.Hour,
		Cooldown:               10 * time.Minute,
		StruggleCountThreshold: 4,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		errs = append(errs, fmt.Errorf("failure threshold must be in (0, 1], got %v", c.FailureThreshold))
	}
	if c.RecencyWindow <= 0 {
		errs = append(errs, fmt.Errorf("recency window must be positive, got %s", c.RecencyWindow))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown))
	}
	if c.StruggleCountThreshold < 2 {
		errs = append(errs, fmt.Errorf("struggle count threshold must be at least 2, got %d", c.StruggleCountThreshold))
	}
	return errors.Join(errs...)
}

// Policy is the intervention decision function. It holds no state; the same
// event and memory always yield the same decision.
type Policy struct {
	cfg Config
}

// New creates a policy. Invalid configs are rejected.
func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	return &Policy{cfg: cfg}, nil
}

// Config returns the active configuration.
func (p *Policy) Config() Config { return p.cfg }

// Evaluate decides whether ev warrants an intervention given the learner's
// memory as it was before ev is recorded. Time is taken from ev.Timestamp.
func (p *Policy) Evaluate(ev domain.Event, mem domain.UserMemory) domain.Decision {
	decide := func(trigger bool, reason domain.Reason) domain.Decision {
		return domain.Decision{ShouldIntervene: trigger, Reason: reason, Topic: ev.Topic}
	}
	now := ev.Timestamp

	if p.inCooldown(ev.Topic, mem, now) {
		return decide(false, domain.ReasonCooldownActive)
	}

	switch ev.Type {
	case domain.EventSessionTimeout:
		return decide(false, domain.ReasonSingleSignalInsufficient)
	case domain.EventQuizFailure:
		score, ok := ev.QuizScore()
		if !ok || score < p.cfg.FailureThreshold {
			return decide(true, domain.ReasonQuizScoreBelowThreshold)
		}
	}

	// Weak signal from here on: help request or a passing quiz attempt.
	since := now.Add(-p.cfg.RecencyWindow)
	recent := 1 // the current event
	related := false
	for _, rec := range mem.History {
		if rec.Timestamp.Before(since) || rec.Timestamp.After(now) {
			continue
		}
		if answeredBy(rec, mem) {
			continue
		}
		recent++
		if Related(rec.Topic, ev.Topic) {
			related = true
		}
	}

	if related {
		return decide(true, domain.ReasonRepeatedTopicStruggle)
	}
	if recent >= p.cfg.StruggleCountThreshold {
		return decide(true, domain.ReasonStruggleCountThreshold)
	}
	return decide(false, domain.ReasonSingleSignalInsufficient)
}

func (p *Policy) inCooldown(topic string, mem domain.UserMemory, now time.Time) bool {
	for _, t := range mem.InFlightTopics {
		if Related(t, topic) {
			return true
		}
	}
	if mem.LastInterventionAt == nil || p.cfg.Cooldown == 0 {
		return false
	}
	if now.Sub(*mem.LastInterventionAt) >= p.cfg.Cooldown {
		return false
	}
	return Same(mem.LastInterventionTopic, topic)
}

// answeredBy reports whether rec was already covered by the learner's last
// intervention: same topic family and not newer than it.
func answeredBy(rec domain.StruggleRecord, mem domain.UserMemory) bool {
	if mem.LastInterventionAt == nil || rec.Timestamp.After(*mem.LastInterventionAt) {
		return false
	}
	return Related(rec.Topic, mem.LastInterventionTopic)
}
