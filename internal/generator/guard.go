package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// ErrTimeout is wrapped by GeneratorError when a call exceeds its deadline.
var ErrTimeout = errors.New("generation timed out")

const defaultGuardTimeout = 45 * time.Second

// GuardConfig bounds calls into a Generator.
type GuardConfig struct {
	Timeout time.Duration
	// RPS limits generation calls per second across all learners. Zero disables limiting.
	RPS   float64
	Burst int
}

// Guard wraps a Generator with a bounded timeout, a shared rate limit, and
// de-duplication of concurrent calls for the same topic. Every error it
// returns is a *domain.GeneratorError.
type Guard struct {
	next    Generator
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

// NewGuard wraps next.
func NewGuard(next Generator, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGuardTimeout
	}
	g := &Guard{next: next, timeout: cfg.Timeout, logger: logger}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

// Generate implements Generator.
func (g *Guard) Generate(ctx context.Context, topic string) (string, error) {
	ctx, span := otel.Tracer("generator").Start(ctx, "generator.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	key := strings.ToLower(strings.TrimSpace(topic))
	ch := g.group.DoChan(key, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.call(callCtx, topic)
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.logger.Debug("generation shared with concurrent caller", "topic", topic)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		err := g.wrap(topic, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
}

func (g *Guard) call(ctx context.Context, topic string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", g.wrap(topic, fmt.Errorf("rate limit wait: %w", err))
		}
	}
	raw, err := g.next.Generate(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", g.wrap(topic, err)
	}
	return raw, nil
}

func (g *Guard) wrap(topic string, err error) error {
	var genErr *domain.GeneratorError
	if errors.As(err, &genErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, g.timeout, err)
	}
	return &domain.GeneratorError{Topic: topic, Err: err}
}
