// Package api provides HTTP handlers for the intervention service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/engine"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/memory"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/notify"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/store"
)

// APIVersion is reported by GET /status.
const APIVersion = "1.0.0"

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Engine is the part of the intervention engine the handlers use.
type Engine interface {
	Process(ctx context.Context, ev domain.Event) (domain.Result, error)
	GenerateArtifact(ctx context.Context, topic string) (domain.Artifact, string, error)
}

// Submitter queues events for background processing.
type Submitter interface {
	Submit(ev domain.Event) error
}

// Memory is the learner memory view used for reporting and reset.
type Memory interface {
	List() []domain.UserSummary
	Totals() memory.Totals
	Profile(userID string, now time.Time) (domain.Profile, error)
	Reset(userID string) error
}

// Observer receives HTTP-layer counters.
type Observer interface {
	RecordRateLimited(route string)
	RecordDispatchDropped()
}

// Deps holds handler dependencies. Repo, Bus, Limiter and Observer are optional.
type Deps struct {
	Engine     Engine
	Dispatcher Submitter
	Memory     Memory
	Repo       store.Repository
	Bus        notify.Bus
	Limiter    *RateLimiter
	Observer   Observer
	Logger     *slog.Logger
	Clock      func() time.Time

	// QuizFailThreshold decides which completed quizzes become quiz_failure events.
	QuizFailThreshold float64
	SSEKeepalive      time.Duration
	SSERetryDelay     time.Duration
	MaxBodySize       int64
}

// Handler serves the intervention API.
type Handler struct {
	engine     Engine
	dispatcher Submitter
	memory     Memory
	repo       store.Repository
	bus        notify.Bus
	limiter    *RateLimiter
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
	startedAt  time.Time

	quizFailThreshold float64
	keepalive         time.Duration
	retryDelay        time.Duration
	maxBodySize       int64
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Engine == nil || deps.Memory == nil {
		return nil, errors.New("api handler requires engine and memory")
	}
	h := &Handler{
		engine:            deps.Engine,
		dispatcher:        deps.Dispatcher,
		memory:            deps.Memory,
		repo:              deps.Repo,
		bus:               deps.Bus,
		limiter:           deps.Limiter,
		observer:          deps.Observer,
		logger:            deps.Logger,
		now:               deps.Clock,
		quizFailThreshold: deps.QuizFailThreshold,
		keepalive:         deps.SSEKeepalive,
		retryDelay:        deps.SSERetryDelay,
		maxBodySize:       deps.MaxBodySize,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.quizFailThreshold <= 0 {
		h.quizFailThreshold = 0.6
	}
	if h.keepalive <= 0 {
		h.keepalive = 30 * time.Second
	}
	if h.retryDelay <= 0 {
		h.retryDelay = 3 * time.Second
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = defaultMaxRequestBodySize
	}
	h.startedAt = h.now()
	return h, nil
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/status", h.HandleStatus)
	r.Post("/events", h.HandleEvent)
	r.Post("/generate-artifact", h.HandleGenerateArtifact)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.HandleListUsers)
		r.Get("/{userID}/profile", h.HandleProfile)
		r.Get("/{userID}/interventions", h.HandleInterventions)
		r.Post("/{userID}/reset", h.HandleReset)
		r.Get("/{userID}/stream", h.HandleStream)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/quiz-completed", h.HandleQuizCompleted)
		r.Post("/help-request", h.HandleHelpRequest)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain and engine errors to HTTP status codes.
func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidUserID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMemoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrDispatcherStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	Error(w, status, err.Error())
}

// allow applies the per-user rate limit. It writes the 429 response itself.
func (h *Handler) allow(w http.ResponseWriter, route, userID string) bool {
	if h.limiter == nil || userID == "" {
		return true
	}
	if h.limiter.Allow(userID) {
		return true
	}
	if h.observer != nil {
		h.observer.RecordRateLimited(route)
	}
	h.logger.Warn("rate limit exceeded", "user_id", userID, "route", route)
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// decodeBody decodes a bounded JSON request body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
