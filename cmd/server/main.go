// Proactive learning intervention server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/analytics"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/api"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/artifact"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/config"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/engine"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/generator"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/memory"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/metrics"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/middleware"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/notify"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/policy"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/store"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/telemetry"
)

const serviceName = "proactive-agent"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"generator", cfg.Generator.Provider,
		"failure_threshold", cfg.Policy.FailureThreshold,
		"cooldown", cfg.Policy.Cooldown,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
		ServiceName: serviceName,
		Version:     api.APIVersion,
		Enabled:     cfg.TracingEnabled,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gen, closeGen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		os.Exit(1)
	}
	defer closeGen()

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		slog.Error("Failed to initialize policy", "error", err)
		os.Exit(1)
	}

	mem := memory.New(memory.Config{MaxHistory: cfg.MaxHistory})

	tracker, err := analytics.New(analytics.Config{
		Enabled:   cfg.Analytics.Enabled,
		Dir:       cfg.Analytics.Dir,
		QueueSize: cfg.Analytics.QueueSize,
		Global:    cfg.Analytics.GlobalEnabled,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize analytics logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			slog.Warn("Failed to close analytics logger", "error", err)
		}
	}()

	bus, err := newBus(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize notification bus", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Warn("Failed to close notification bus", "error", err)
		}
	}()

	exporter := metrics.NewPrometheusExporter(metrics.Config{
		Users:            func() int { return mem.Totals().Users },
		Subscribers:      bus.Subscribers,
		AnalyticsDropped: tracker.Dropped,
	})

	eng, err := engine.New(engine.Deps{
		Store:     mem,
		Policy:    pol,
		Generator: gen,
		Parser:    artifact.Default(),
		Recorder:  repo,
		Notifier:  bus,
		Tracker:   tracker,
		Metrics:   exporter,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}

	dispatcher := engine.NewDispatcher(eng, engine.DispatcherConfig{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
	}, logger)

	limiter := api.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Stop()

	handler, err := api.NewHandler(api.Deps{
		Engine:            eng,
		Dispatcher:        dispatcher,
		Memory:            mem,
		Repo:              repo,
		Bus:               bus,
		Limiter:           limiter,
		Observer:          exporter,
		Logger:            logger,
		QuizFailThreshold: cfg.Policy.FailureThreshold,
		SSEKeepalive:      cfg.SSEKeepalive,
		SSERetryDelay:     cfg.SSERetryDelay,
	})
	if err != nil {
		slog.Error("Failed to initialize handlers", "error", err)
		os.Exit(1)
	}

	// Background workers.
	memory.StartSweeper(ctx, mem, cfg.MemoryIdleTTL, cfg.MemorySweepPeriod, bus.Forget)
	store.StartRetentionWorker(ctx, repo, cfg.LogRetention, 0)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	handler.RegisterRoutes(r)
	r.Handle("/metrics", exporter)

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Warn("Dispatcher did not drain before shutdown", "error", err, "pending", dispatcher.Pending())
	}

	slog.Info("Server stopped successfully")
}

// newGenerator builds the configured provider wrapped in a Guard. The
// returned func releases provider resources.
func newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generator.Generator, func(), error) {
	var (
		next    generator.Generator
		closeFn = func() {}
	)

	switch cfg.Generator.Provider {
	case config.ProviderOpenAI:
		next = generator.NewOpenAIGenerator(generator.OpenAIConfig{
			APIKey:     cfg.Generator.LLMAPIKey,
			BaseURL:    cfg.Generator.LLMBaseURL,
			Model:      cfg.Generator.LLMModel,
			Timeout:    cfg.Generator.Timeout,
			Structured: cfg.Generator.StructuredOutput,
		}, logger)
	case config.ProviderGRPC:
		gcfg := generator.DefaultGRPCConfig()
		gcfg.Address = cfg.Generator.ContentServiceAddr
		gcfg.RequestTimeout = cfg.Generator.Timeout
		client, err := generator.NewGRPCGenerator(gcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect content service: %w", err)
		}
		if err := client.Health(ctx); err != nil {
			slog.Warn("Content service health check failed", "error", err)
		}
		next = client
		closeFn = client.Close
	default:
		next = generator.TemplateGenerator{}
	}

	slog.Info("Generator initialized", "provider", cfg.Generator.Provider, "timeout", cfg.Generator.Timeout)
	return generator.NewGuard(next, generator.GuardConfig{
		Timeout: cfg.Generator.Timeout,
		RPS:     cfg.Generator.RPS,
		Burst:   cfg.Generator.Burst,
	}, logger), closeFn, nil
}

// newBus returns a Redis-backed bus when REDIS_ADDR is set and an in-process
// bus otherwise.
func newBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Bus, error) {
	local := notify.NewLocalBus(0, logger)
	if cfg.RedisAddr == "" {
		slog.Info("Notification bus: in-process")
		return local, nil
	}
	rb, err := notify.NewRedisBus(ctx, notify.RedisConfig{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel}, local, logger)
	if err != nil {
		return nil, err
	}
	slog.Info("Notification bus: redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	return rb, nil
}
