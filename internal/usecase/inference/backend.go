// Package inference decorates inference backends with timeouts, error classification,
// metrics and token budgets.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// Backend wraps a Completer. Deadlines surface as domain.ErrInferenceTimeout,
// every other failure as domain.ErrInferenceFailed. Nothing is retried.
type Backend struct {
	inner   domain.Completer
	name    string
	timeout time.Duration
	budget  BudgetChecker
	logger  *zap.Logger
}

// NewBackend wraps inner. timeout <= 0 leaves the caller's deadline alone; budget can be nil.
func NewBackend(
	inner domain.Completer, name string, timeout time.Duration,
	budget BudgetChecker, logger *zap.Logger,
) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{inner: inner, name: name, timeout: timeout, budget: budget, logger: logger}
}

// Name returns the backend name used in logs and metrics.
func (b *Backend) Name() string { return b.name }

// Complete checks the budget, calls the backend under the timeout, and records usage.
func (b *Backend) Complete(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
	if b.budget != nil {
		if err := b.budget.Check(ctx); err != nil {
			metrics.InferenceRequestsTotal.WithLabelValues(b.name, "rejected").Inc()
			b.logger.Error("Budget exceeded", zap.String("backend", b.name), zap.Error(err))
			return domain.Completion{}, fmt.Errorf("budget check: %w", err)
		}
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := b.inner.Complete(ctx, p)
	duration := time.Since(start)
	metrics.InferenceRequestDuration.WithLabelValues(b.name).Observe(duration.Seconds())

	if err != nil {
		return domain.Completion{}, b.classify(err, duration)
	}

	metrics.InferenceRequestsTotal.WithLabelValues(b.name, "success").Inc()
	metrics.InferenceTokensTotal.WithLabelValues(b.name, "prompt").Add(float64(out.PromptTokens))
	metrics.InferenceTokensTotal.WithLabelValues(b.name, "completion").Add(float64(out.CompletionTokens))

	if b.budget != nil {
		b.budget.Record(int64(out.TotalTokens()))
		metrics.RemoteBudgetTokensRemaining.WithLabelValues("daily").Set(float64(b.budget.RemainingDaily()))
		metrics.RemoteBudgetTokensRemaining.WithLabelValues("monthly").Set(float64(b.budget.RemainingMonthly()))
	}

	b.logger.Debug("Inference request completed",
		zap.String("backend", b.name),
		zap.String("model", out.Model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.CompletionTokens),
	)
	return out, nil
}

func (b *Backend) classify(err error, duration time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.InferenceRequestsTotal.WithLabelValues(b.name, "timeout").Inc()
		b.logger.Warn("Inference request timed out",
			zap.String("backend", b.name), zap.Duration("duration", duration), zap.Error(err))
		return fmt.Errorf("%s backend after %s: %w", b.name, duration.Truncate(time.Millisecond), domain.ErrInferenceTimeout)
	}

	metrics.InferenceRequestsTotal.WithLabelValues(b.name, "error").Inc()
	b.logger.Error("Inference request failed",
		zap.String("backend", b.name), zap.Duration("duration", duration), zap.Error(err))
	if errors.Is(err, domain.ErrInferenceFailed) {
		return fmt.Errorf("%s backend: %w", b.name, err)
	}
	return fmt.Errorf("%s backend: %w: %w", b.name, domain.ErrInferenceFailed, err)
}
