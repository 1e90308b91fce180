package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

var base = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	return p
}

func event(typ domain.EventType, topic string, meta map[string]any, at time.Time) domain.Event {
	return domain.NewEvent("learner", typ, topic, meta, at)
}

func withHistory(events ...domain.Event) domain.UserMemory {
	mem := domain.UserMemory{UserID: "learner"}
	for _, ev := range events {
		mem.History = append(mem.History, ev.Record())
		mem.TotalEvents++
	}
	return mem
}

func TestEvaluateLowQuizScoreOnFreshUser(t *testing.T) {
	p := newPolicy(t)
	d := p.Evaluate(event(domain.EventQuizFailure, "CSS Flexbox", map[string]any{"quiz_score": 0.4}, base), domain.UserMemory{})

	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonQuizScoreBelowThreshold, d.Reason)
	assert.Equal(t, "CSS Flexbox", d.Topic)
}

func TestEvaluateQuizWithoutScoreTriggers(t *testing.T) {
	p := newPolicy(t)
	d := p.Evaluate(event(domain.EventQuizFailure, "SQL", nil, base), domain.UserMemory{})
	assert.True(t, d.ShouldIntervene)
}

func TestEvaluatePassingQuizIsWeak(t *testing.T) {
	p := newPolicy(t)
	d := p.Evaluate(event(domain.EventQuizFailure, "SQL", map[string]any{"quiz_score": 0.6}, base), domain.UserMemory{})
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)
}

func TestEvaluateSingleHelpRequestMonitors(t *testing.T) {
	p := newPolicy(t)
	d := p.Evaluate(event(domain.EventHelpRequest, "Python Decorators", nil, base), domain.UserMemory{})
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)
}

func TestEvaluateRepeatedTopicFamily(t *testing.T) {
	p := newPolicy(t)
	first := event(domain.EventHelpRequest, "JavaScript Async/Await", nil, base)
	assert.False(t, p.Evaluate(first, domain.UserMemory{}).ShouldIntervene)

	second := event(domain.EventHelpRequest, "JavaScript Promises", nil, base.Add(5*time.Minute))
	d := p.Evaluate(second, withHistory(first))
	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonRepeatedTopicStruggle, d.Reason)
	assert.Equal(t, "JavaScript Promises", d.Topic)
}

func TestEvaluateRepeatedOutsideWindow(t *testing.T) {
	p := newPolicy(t)
	first := event(domain.EventHelpRequest, "JavaScript Async/Await", nil, base)
	second := event(domain.EventHelpRequest, "JavaScript Promises", nil, base.Add(2*time.Hour))
	d := p.Evaluate(second, withHistory(first))
	assert.False(t, d.ShouldIntervene)
}

func TestEvaluateUnrelatedTopicsDoNotRepeat(t *testing.T) {
	p := newPolicy(t)
	first := event(domain.EventHelpRequest, "Rust Lifetimes", nil, base)
	second := event(domain.EventHelpRequest, "CSS Grid", nil, base.Add(time.Minute))
	assert.False(t, p.Evaluate(second, withHistory(first)).ShouldIntervene)
}

func TestEvaluateSessionTimeoutNeverTriggersAlone(t *testing.T) {
	p := newPolicy(t)
	prior := event(domain.EventHelpRequest, "Go Channels", nil, base)
	timeout := event(domain.EventSessionTimeout, "Go Channels", map[string]any{"idle_seconds": 900}, base.Add(time.Minute))

	d := p.Evaluate(timeout, withHistory(prior))
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)

	// The timeout raises the chance that the next related signal triggers.
	next := event(domain.EventHelpRequest, "Go Generics", nil, base.Add(2*time.Minute))
	d = p.Evaluate(next, withHistory(timeout))
	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonRepeatedTopicStruggle, d.Reason)
}

func TestEvaluateStruggleCount(t *testing.T) {
	p := newPolicy(t)
	mem := withHistory(
		event(domain.EventSessionTimeout, "Rust", nil, base),
		event(domain.EventHelpRequest, "CSS Grid", nil, base.Add(time.Minute)),
		event(domain.EventSessionTimeout, "Haskell Monads", nil, base.Add(2*time.Minute)),
	)
	d := p.Evaluate(event(domain.EventHelpRequest, "SQL Joins", nil, base.Add(3*time.Minute)), mem)
	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonStruggleCountThreshold, d.Reason)
}

func TestEvaluateCooldown(t *testing.T) {
	p := newPolicy(t)
	last := base
	mem := domain.UserMemory{
		InterventionCount:     1,
		LastInterventionTopic: "CSS Grid",
		LastInterventionAt:    &last,
	}

	d := p.Evaluate(event(domain.EventQuizFailure, "css grid", map[string]any{"quiz_score": 0.1}, base.Add(time.Minute)), mem)
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonCooldownActive, d.Reason)

	// Neighbouring topics in the same family and other families are unaffected.
	for _, topic := range []string{"CSS Flexbox", "Python"} {
		d = p.Evaluate(event(domain.EventQuizFailure, topic, map[string]any{"quiz_score": 0.1}, base.Add(time.Minute)), mem)
		assert.True(t, d.ShouldIntervene, topic)
		assert.Equal(t, domain.ReasonQuizScoreBelowThreshold, d.Reason, topic)
	}

	// Cooldown expires.
	d = p.Evaluate(event(domain.EventQuizFailure, "CSS Grid", map[string]any{"quiz_score": 0.1}, base.Add(11*time.Minute)), mem)
	assert.True(t, d.ShouldIntervene)
}

func TestEvaluateInFlightActsAsCooldown(t *testing.T) {
	p := newPolicy(t)
	mem := domain.UserMemory{InFlightTopics: []string{"JavaScript Promises"}}
	d := p.Evaluate(event(domain.EventQuizFailure, "JavaScript Closures", map[string]any{"quiz_score": 0.2}, base), mem)
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonCooldownActive, d.Reason)
}

func TestEvaluateAnsweredStrugglesNotRecounted(t *testing.T) {
	p := newPolicy(t)
	first := event(domain.EventHelpRequest, "Go Channels", nil, base)
	second := event(domain.EventHelpRequest, "Go Channels", nil, base.Add(time.Minute))
	mem := withHistory(first, second)
	at := second.Timestamp
	mem.LastInterventionAt = &at
	mem.LastInterventionTopic = second.Topic
	mem.InterventionCount = 1

	// After cooldown, one new help request alone is not enough.
	d := p.Evaluate(event(domain.EventHelpRequest, "Go Channels", nil, base.Add(20*time.Minute)), mem)
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)
}

func TestEvaluateUnrelatedInterventionKeepsEarlierStruggles(t *testing.T) {
	p := newPolicy(t)
	lists := event(domain.EventHelpRequest, "Python Lists", nil, base)
	grid := event(domain.EventQuizFailure, "CSS Grid", map[string]any{"quiz_score": 0.2}, base.Add(time.Minute))
	require.True(t, p.Evaluate(grid, withHistory(lists)).ShouldIntervene)

	mem := withHistory(lists, grid)
	at := grid.Timestamp
	mem.LastInterventionAt = &at
	mem.LastInterventionTopic = grid.Topic
	mem.InterventionCount = 1

	d := p.Evaluate(event(domain.EventHelpRequest, "Python Loops", nil, base.Add(2*time.Minute)), mem)
	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonRepeatedTopicStruggle, d.Reason)
}

func TestEvaluateUnrelatedInterventionKeepsStruggleCount(t *testing.T) {
	p := newPolicy(t)
	mem := withHistory(
		event(domain.EventHelpRequest, "Rust Traits", nil, base),
		event(domain.EventSessionTimeout, "Haskell Monads", nil, base.Add(time.Minute)),
		event(domain.EventQuizFailure, "SQL Joins", map[string]any{"quiz_score": 0.1}, base.Add(2*time.Minute)),
	)
	at := base.Add(2 * time.Minute)
	mem.LastInterventionAt = &at
	mem.LastInterventionTopic = "SQL Joins"
	mem.InterventionCount = 1

	// The SQL failure was answered; Rust and Haskell still count with the new event.
	d := p.Evaluate(event(domain.EventHelpRequest, "CSS Grid", nil, base.Add(3*time.Minute)), mem)
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)

	mem.History = append(mem.History, event(domain.EventHelpRequest, "Go Generics", nil, base.Add(3*time.Minute)).Record())
	d = p.Evaluate(event(domain.EventHelpRequest, "CSS Grid", nil, base.Add(4*time.Minute)), mem)
	assert.True(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonStruggleCountThreshold, d.Reason)
}

func TestEvaluateGenericLeadWordsDoNotRepeat(t *testing.T) {
	p := newPolicy(t)
	first := event(domain.EventHelpRequest, "Intro to SQL", nil, base)
	d := p.Evaluate(event(domain.EventHelpRequest, "Intro to Rust", nil, base.Add(time.Minute)), withHistory(first))
	assert.False(t, d.ShouldIntervene)
	assert.Equal(t, domain.ReasonSingleSignalInsufficient, d.Reason)
}

func TestEvaluateDeterministic(t *testing.T) {
	p := newPolicy(t)
	prior := event(domain.EventHelpRequest, "Docker Volumes", nil, base)
	ev := event(domain.EventHelpRequest, "Docker Networking", nil, base.Add(time.Minute))
	mem := withHistory(prior)

	want := p.Evaluate(ev, mem)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, p.Evaluate(ev, mem))
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FailureThreshold = 1.5
	bad.RecencyWindow = 0
	_, err := New(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure threshold")
	assert.Contains(t, err.Error(), "recency window")
}

func TestRelated(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"JavaScript Async/Await", "JavaScript Promises", true},
		{"CSS Grid", "css flexbox", true},
		{"Promises in JavaScript", "JavaScript Promises", true},
		{"The Rust Borrow Checker", "Rust Lifetimes", true},
		{"Python", "JS Promises", false},
		{"SQL Joins", "NoSQL Joins", false},
		{"Intro to SQL", "Intro to Rust", false},
		{"Advanced CSS", "Advanced Python", false},
		{"Understanding Recursion", "Understanding Pointers", false},
		{"Basics of Docker", "Docker Networking", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Related(tt.a, tt.b))
		})
	}
	assert.Equal(t, "rust", Family("The Rust Borrow Checker"))
}

func TestSame(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"CSS Grid", "css grid", true},
		{"Promises in JavaScript", "JavaScript Promises", true},
		{"Intro to SQL", "SQL", true},
		{"CSS Grid", "CSS Flexbox", false},
		{"Intro to SQL", "Intro to Rust", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Same(tt.a, tt.b))
		})
	}
}
