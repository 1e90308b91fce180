package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ContentServiceName is the gRPC service that generates lessons.
	ContentServiceName = "tutor.v1.ContentService"
	// GenerateLessonMethod takes a Struct{topic, prompt} and returns the raw
	// lesson text as a StringValue.
	GenerateLessonMethod = "/" + ContentServiceName + "/GenerateLesson"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errServiceNotServing        = errors.New("content service not serving")
)

// GRPCConfig holds configuration for the content service client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGenerator generates lessons through a remote content service.
type GRPCGenerator struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPCGenerator connects to the content service and waits until the
// connection is ready so bad endpoints fail at startup.
func NewGRPCGenerator(cfg GRPCConfig, logger *slog.Logger) (*GRPCGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to content service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("content service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to content service", "address", cfg.Address)

	return &GRPCGenerator{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Generate implements Generator.
func (g *GRPCGenerator) Generate(ctx context.Context, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"topic":  topic,
		"prompt": BuildPrompt(topic),
	})
	if err != nil {
		return "", fmt.Errorf("build lesson request: %w", err)
	}

	resp := &wrapperspb.StringValue{}
	if err := g.conn.Invoke(ctx, GenerateLessonMethod, req, resp); err != nil {
		g.logger.Error("GenerateLesson failed", "error", err, "topic", topic, "address", g.addr)
		return "", fmt.Errorf("generate lesson request failed: %w", err)
	}
	if resp.GetValue() == "" {
		return "", errEmptyCompletion
	}
	return resp.GetValue(), nil
}

// Health checks if the content service is serving.
func (g *GRPCGenerator) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ContentServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errServiceNotServing, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (g *GRPCGenerator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
