// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/policy"
)

// Generator providers.
const (
	ProviderTemplate = "template"
	ProviderOpenAI   = "openai"
	ProviderGRPC     = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	CORSAllowedOrigins []string
	DBPath             string
	LogRetention       time.Duration

	Policy            policy.Config
	PolicyConfigFile  string
	MaxHistory        int
	MemoryIdleTTL     time.Duration
	MemorySweepPeriod time.Duration

	Generator GeneratorConfig

	RateLimitRequests int
	RateLimitWindow   time.Duration

	DispatchWorkers   int
	DispatchQueueSize int

	RedisAddr    string
	RedisChannel string

	SSEKeepalive  time.Duration
	SSERetryDelay time.Duration

	TracingEnabled bool

	Analytics AnalyticsConfig
}

// GeneratorConfig selects and tunes the lesson generator.
type GeneratorConfig struct {
	Provider           string
	Timeout            time.Duration
	RPS                float64
	Burst              int
	LLMAPIKey          string
	LLMBaseURL         string
	LLMModel           string
	StructuredOutput   bool
	ContentServiceAddr string
}

// AnalyticsConfig controls NDJSON analytics logging.
type AnalyticsConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("ANALYTICS_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DBPath:             getEnv("DB_PATH", "./data/interventions.db"),
		LogRetention:       getEnvDuration("INTERVENTION_LOG_RETENTION", 30*24*time.Hour),
		PolicyConfigFile:   getEnv("POLICY_CONFIG_FILE", ""),
		MaxHistory:         getEnvInt("MEMORY_MAX_HISTORY", 500),
		MemoryIdleTTL:      getEnvDuration("MEMORY_IDLE_TTL", 0),
		MemorySweepPeriod:  getEnvDuration("MEMORY_SWEEP_INTERVAL", 5*time.Minute),
		Generator: GeneratorConfig{
			Provider:           strings.ToLower(getEnv("GENERATOR_PROVIDER", ProviderTemplate)),
			Timeout:            getEnvDuration("GENERATOR_TIMEOUT", 45*time.Second),
			RPS:                getEnvFloat("GENERATOR_RPS", 2),
			Burst:              getEnvInt("GENERATOR_BURST", 4),
			LLMAPIKey:          getEnv("LLM_API_KEY", ""),
			LLMBaseURL:         getEnv("LLM_BASE_URL", ""),
			LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
			StructuredOutput:   getEnvBool("LLM_STRUCTURED_OUTPUT", true),
			ContentServiceAddr: getEnv("CONTENT_SERVICE_ADDR", ""),
		},
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		DispatchWorkers:   getEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize: getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisChannel:      getEnv("REDIS_CHANNEL", "interventions"),
		SSEKeepalive:      getEnvDuration("SSE_KEEPALIVE_INTERVAL", 30*time.Second),
		SSERetryDelay:     getEnvDuration("SSE_RETRY_DELAY", 3*time.Second),
		TracingEnabled:    getEnvBool("TRACING_ENABLED", false),
		Analytics: AnalyticsConfig{
			Enabled:       getEnvBool("ANALYTICS_LOG_ENABLED", true),
			Dir:           getEnv("ANALYTICS_LOG_DIR", "./data/logs/analytics"),
			GlobalEnabled: getEnvBool("ANALYTICS_LOG_GLOBAL_ENABLED", true),
			QueueSize:     queueSize,
		},
	}

	pc, err := LoadPolicy(cfg.PolicyConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load policy config: %w", err)
	}
	cfg.Policy = pc

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("MEMORY_MAX_HISTORY must be > 0")
	}
	if c.MemoryIdleTTL < 0 {
		return fmt.Errorf("MEMORY_IDLE_TTL must be >= 0")
	}
	switch c.Generator.Provider {
	case ProviderTemplate:
	case ProviderOpenAI:
		if c.Generator.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required when GENERATOR_PROVIDER=openai")
		}
	case ProviderGRPC:
		if c.Generator.ContentServiceAddr == "" {
			return fmt.Errorf("CONTENT_SERVICE_ADDR is required when GENERATOR_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("unknown GENERATOR_PROVIDER %q", c.Generator.Provider)
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be > 0")
	}
	if c.Generator.RPS <= 0 || c.Generator.Burst <= 0 {
		return fmt.Errorf("GENERATOR_RPS and GENERATOR_BURST must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.DispatchWorkers <= 0 || c.DispatchQueueSize <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS and DISPATCH_QUEUE_SIZE must be > 0")
	}
	if c.Analytics.Enabled && c.Analytics.Dir == "" {
		return fmt.Errorf("ANALYTICS_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true when CORS is open to any origin or to localhost.
func (c *Config) IsDevelopment() bool {
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" || strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			return true
		}
	}
	return len(c.CORSAllowedOrigins) == 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
