package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 45 * time.Second
	lessonMaxTokens      = 1500
	lessonTemperature    = 0.4
)

var errEmptyCompletion = errors.New("empty response from LLM")

// OpenAIConfig holds configuration for the OpenAI-compatible generator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Structured requests a JSON-schema constrained response. Disable for
	// providers that do not support response_format.
	Structured bool
}

// OpenAIGenerator generates lessons through any OpenAI-compatible chat API.
type OpenAIGenerator struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	structured bool
	logger     *slog.Logger
}

// NewOpenAIGenerator creates a generator. An empty BaseURL uses the
// OpenAI default endpoint.
func NewOpenAIGenerator(cfg OpenAIConfig, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		timeout:    timeout,
		structured: cfg.Structured,
		logger:     logger,
	}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   lessonMaxTokens,
		Temperature: lessonTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(topic)},
		},
	}
	if g.structured {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "lesson_artifact",
				Strict: true,
				Schema: lessonSchema,
			},
		}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		g.logger.Error("lesson_generation_failed",
			"model", g.model,
			"topic", topic,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errEmptyCompletion
	}

	g.logger.Debug("lesson_generation_success",
		"model", g.model,
		"topic", topic,
		"latency_ms", latency.Milliseconds(),
		"tokens_total", resp.Usage.TotalTokens)

	return resp.Choices[0].Message.Content, nil
}
