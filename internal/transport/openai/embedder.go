// Package openai adapts OpenAI-compatible HTTP APIs (Ollama /v1, OpenRouter, vLLM)
// to the domain embedder and completer contracts.
package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Provider   string
	Logger     *zap.Logger
}

// Embedder calls POST /embeddings one text at a time.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	provider   string
	logger     *zap.Logger
}

// NewEmbedder creates the provider client. Dimensions <= 0 skips the size check.
func NewEmbedder(cfg *Config) *Embedder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		client:     newClient(cfg.APIKey, cfg.BaseURL),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		provider:   cfg.Provider,
		logger:     logger,
	}
}

func newClient(apiKey, baseURL string) *openai.Client {
	c := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(c)
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, e.model).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		e.outcome("api_error")
		return domain.EmbeddingResult{}, parseAPIError("embedding", err, domain.ErrEmbeddingProviderError)
	case len(resp.Data) == 0:
		e.outcome("empty")
		return domain.EmbeddingResult{}, fmt.Errorf("embedding response has no data: %w", domain.ErrEmbeddingProviderError)
	case e.dimensions > 0 && len(resp.Data[0].Embedding) != e.dimensions:
		e.outcome("dim_mismatch")
		e.logger.Error("Embedding dimension mismatch; check embedding.dimensions against the model",
			zap.String("model", e.model), zap.Int("got", len(resp.Data[0].Embedding)), zap.Int("want", e.dimensions))
		return domain.EmbeddingResult{}, fmt.Errorf("got %d dimensions, want %d: %w",
			len(resp.Data[0].Embedding), e.dimensions, domain.ErrEmbeddingProviderError)
	}

	e.outcome("ok")
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, e.model).Add(float64(resp.Usage.TotalTokens))
	}
	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func (e *Embedder) outcome(o string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, o).Inc()
}

// HealthCheck lists models, which costs nothing on every supported provider.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s list models: %w", e.provider, err)
	}
	return nil
}
