package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

// CompleterConfig holds the settings of one inference backend.
type CompleterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// RequestsPerSecond throttles outgoing calls client-side; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	Backend           string
	Logger            *zap.Logger
}

// Completer is an inference backend on the OpenAI-compatible chat completions API.
// The local backend is Ollama's /v1 endpoint, the remote one OpenRouter or any compatible API.
type Completer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	backend     string
	logger      *zap.Logger
}

// NewCompleter creates a chat completion backend.
func NewCompleter(cfg *CompleterConfig) *Completer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Completer{
		client:      newClient(cfg.APIKey, cfg.BaseURL),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		backend:     cfg.Backend,
		logger:      logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Completion{}, throttleError(ctx, c.backend, err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Completion{}, parseAPIError(c.backend+" inference", err, domain.ErrInferenceFailed)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return domain.Completion{}, fmt.Errorf("empty %s completion: %w", c.backend, domain.ErrInferenceFailed)
	}

	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		c.logger.Debug("Completion truncated by max_tokens",
			zap.String("backend", c.backend), zap.Int("max_tokens", c.maxTokens))
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return domain.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// HealthCheck verifies the backend answers ListModels.
func (c *Completer) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s list models: %w", c.backend, err)
	}
	return nil
}

// Backend returns the backend name used in logs and metrics.
func (c *Completer) Backend() string { return c.backend }

// throttleError keeps a deadline in the chain. rate.Limiter.Wait refuses up front, without
// a context error, when the next token lands past the deadline.
func throttleError(ctx context.Context, backend string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s throttle: %w", backend, ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%s throttle: %w: %w", backend, context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%s throttle: %w", backend, err)
}
