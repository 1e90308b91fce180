// Package engine runs the intervention pipeline: validate, decide, record,
// and generate a mini-lesson when the policy says so.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/artifact"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/generator"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/memory"
)

// Policy decides whether an event warrants an intervention.
type Policy interface {
	Evaluate(ev domain.Event, mem domain.UserMemory) domain.Decision
}

// Recorder persists attempted interventions.
type Recorder interface {
	SaveIntervention(ctx context.Context, res domain.Result) error
}

// Notifier delivers created interventions to connected clients.
type Notifier interface {
	Publish(ctx context.Context, res domain.Result) error
}

// Tracker receives every processed event for analytics.
type Tracker interface {
	Track(ev domain.Event, res domain.Result)
}

// Metrics observes pipeline outcomes.
type Metrics interface {
	ObserveEvent(eventType domain.EventType, action domain.Action, reason domain.Reason)
	ObserveGeneration(d time.Duration, err error)
}

// Deps are the engine collaborators. Store, Policy and Generator are
// required; the rest are optional.
type Deps struct {
	Store     *memory.Store
	Policy    Policy
	Generator generator.Generator
	Parser    artifact.Parser
	Recorder  Recorder
	Notifier  Notifier
	Tracker   Tracker
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Engine is the InterventionEngine.
type Engine struct {
	store     *memory.Store
	policy    Policy
	generator generator.Generator
	parser    artifact.Parser
	recorder  Recorder
	notifier  Notifier
	tracker   Tracker
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an engine.
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Policy == nil || deps.Generator == nil {
		return nil, errors.New("engine requires store, policy and generator")
	}
	e := &Engine{
		store:     deps.Store,
		policy:    deps.Policy,
		generator: deps.Generator,
		parser:    deps.Parser,
		recorder:  deps.Recorder,
		notifier:  deps.Notifier,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Clock,
	}
	if e.parser == nil {
		e.parser = artifact.Default()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Process runs one event through the pipeline. The only error it returns is
// a *domain.ValidationError; generation and parse failures are reported in
// the Result. The struggle is recorded whatever the outcome.
func (e *Engine) Process(ctx context.Context, ev domain.Event) (domain.Result, error) {
	if err := ev.Validate(); err != nil {
		return domain.Result{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	ctx, span := otel.Tracer("engine").Start(ctx, "engine.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", ev.UserID),
		attribute.String("event_type", string(ev.Type)),
		attribute.String("topic", ev.Topic),
	)

	var (
		decision domain.Decision
		entry    *memory.Entry
	)
	err := e.store.Update(ev.UserID, func(m *memory.Entry) error {
		if m.HasEvent(ev.ID) {
			return &domain.ValidationError{Field: "id", Reason: "already processed", Err: domain.ErrDuplicateEvent}
		}
		decision = e.policy.Evaluate(ev, m.Snapshot())
		m.AppendStruggle(ev.Record())
		if decision.ShouldIntervene {
			m.BeginIntervention(ev.Topic)
			entry = m
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Result{}, err
	}
	span.SetAttributes(
		attribute.Bool("should_intervene", decision.ShouldIntervene),
		attribute.String("reason", string(decision.Reason)),
	)

	res := domain.Result{
		EventID:   ev.ID,
		UserID:    ev.UserID,
		Topic:     ev.Topic,
		Action:    domain.ActionMonitoring,
		Reason:    decision.Reason,
		Timestamp: e.now(),
	}
	if decision.ShouldIntervene {
		res = e.intervene(ctx, ev, decision, entry, res)
	}
	span.SetAttributes(attribute.String("action", string(res.Action)))

	e.logger.Info("Event processed",
		"user_id", ev.UserID,
		"event_type", ev.Type,
		"topic", ev.Topic,
		"action", res.Action,
		"reason", res.Reason,
	)
	e.observe(ev, res)
	return res, nil
}

func (e *Engine) intervene(ctx context.Context, ev domain.Event, decision domain.Decision, entry *memory.Entry, res domain.Result) domain.Result {
	res.InterventionID = uuid.NewString()

	start := time.Now()
	raw, genErr := e.generator.Generate(ctx, decision.Topic)
	if e.metrics != nil {
		e.metrics.ObserveGeneration(time.Since(start), genErr)
	}
	res.Timestamp = e.now()

	switch {
	case genErr != nil:
		var gErr *domain.GeneratorError
		if !errors.As(genErr, &gErr) {
			genErr = &domain.GeneratorError{Topic: decision.Topic, Err: genErr}
		}
		e.logger.Warn("Intervention generation failed",
			"user_id", ev.UserID,
			"topic", decision.Topic,
			"error", genErr,
		)
		res.Action = domain.ActionInterventionFailed
		res.Error = genErr.Error()
		res.UserMessage = fallbackMessage(decision.Topic)
	default:
		a, parseErr := e.parser.Parse(raw)
		if parseErr != nil {
			e.logger.Warn("Intervention output unparseable",
				"user_id", ev.UserID,
				"topic", decision.Topic,
				"error", parseErr,
			)
			res.Action = domain.ActionInterventionUnparseable
			res.Error = parseErr.Error()
			res.RawOutput = raw
			res.UserMessage = fallbackMessage(decision.Topic)
			break
		}
		res.Action = domain.ActionInterventionCreated
		res.Artifact = &a
		res.UserMessage = createdMessage(decision.Topic, a)
	}

	created := res.Action == domain.ActionInterventionCreated
	if err := e.store.FinishIntervention(entry, decision.Topic, ev.Timestamp, created); err != nil {
		e.logger.Info("Learner memory reset during intervention", "user_id", ev.UserID, "topic", decision.Topic)
	}

	if e.recorder != nil {
		if err := e.recorder.SaveIntervention(ctx, res); err != nil {
			e.logger.Error("Failed to persist intervention", "user_id", ev.UserID, "intervention_id", res.InterventionID, "error", err)
		}
	}
	if created && e.notifier != nil {
		if err := e.notifier.Publish(ctx, res); err != nil {
			e.logger.Warn("Failed to publish intervention", "user_id", ev.UserID, "intervention_id", res.InterventionID, "error", err)
		}
	}
	return res
}

func (e *Engine) observe(ev domain.Event, res domain.Result) {
	if e.metrics != nil {
		e.metrics.ObserveEvent(ev.Type, res.Action, res.Reason)
	}
	if e.tracker != nil {
		e.tracker.Track(ev, res)
	}
}

// GenerateArtifact generates and parses a lesson for topic without touching
// learner memory. Raw output is returned alongside parse failures.
func (e *Engine) GenerateArtifact(ctx context.Context, topic string) (domain.Artifact, string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.Artifact{}, "", &domain.ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	ctx, span := otel.Tracer("engine").Start(ctx, "engine.GenerateArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	start := time.Now()
	raw, err := e.generator.Generate(ctx, topic)
	if e.metrics != nil {
		e.metrics.ObserveGeneration(time.Since(start), err)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var gErr *domain.GeneratorError
		if !errors.As(err, &gErr) {
			err = &domain.GeneratorError{Topic: topic, Err: err}
		}
		return domain.Artifact{}, "", err
	}
	a, err := e.parser.Parse(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Artifact{}, raw, err
	}
	return a, raw, nil
}

func createdMessage(topic string, a domain.Artifact) string {
	return fmt.Sprintf("Looks like %s is giving you some trouble. Here's a quick %s-minute lesson to help you get unstuck.",
		topic, strconv.FormatFloat(a.DurationMinutes, 'f', -1, 64))
}

func fallbackMessage(topic string) string {
	return fmt.Sprintf("We noticed %s might be tricky right now. We couldn't prepare a lesson this time, but keep going and try breaking the problem into smaller steps.", topic)
}
