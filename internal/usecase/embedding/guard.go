// Package embedding guards the embedding provider: token budget, concurrency cap, and logging.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

// Budget gates spend on a paid provider.
type Budget interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}

// Guard wraps a provider. Every error it returns carries domain.ErrEmbeddingProviderError.
type Guard struct {
	inner  domain.Embedder
	model  string
	budget Budget
	slots  *semaphore.Weighted
	logger *zap.Logger
}

// NewGuard wraps inner. budget may be nil (free local provider); maxConcurrent <= 0 means unbounded.
func NewGuard(inner domain.Embedder, model string, budget Budget, maxConcurrent int, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{inner: inner, model: model, budget: budget, logger: logger}
	if maxConcurrent > 0 {
		g.slots = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return g
}

// Embed implements domain.Embedder.
func (g *Guard) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if g.budget != nil {
		if err := g.budget.Check(ctx); err != nil {
			g.logger.Warn("Embedding refused by budget", zap.String("model", g.model), zap.Error(err))
			return domain.EmbeddingResult{}, fmt.Errorf("budget check: %w: %w", domain.ErrEmbeddingProviderError, err)
		}
	}

	if g.slots != nil {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("wait for embedding slot: %w: %w", domain.ErrEmbeddingProviderError, err)
		}
		defer g.slots.Release(1)
	}

	start := time.Now()
	res, err := g.inner.Embed(ctx, text)
	took := time.Since(start)
	if err != nil {
		g.logger.Error("Embedding failed", zap.String("model", g.model), zap.Duration("took", took), zap.Error(err))
		if errors.Is(err, domain.ErrEmbeddingProviderError) {
			return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
		}
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w: %w", domain.ErrEmbeddingProviderError, err)
	}

	if g.budget != nil && res.TotalTokens > 0 {
		g.budget.Record(int64(res.TotalTokens))
	}
	g.logger.Debug("Embedded text",
		zap.String("model", g.model),
		zap.Duration("took", took),
		zap.Int("dims", len(res.Embedding)),
		zap.Int("tokens", res.TotalTokens),
	)
	return res, nil
}
