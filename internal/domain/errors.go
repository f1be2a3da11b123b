package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals a rejected query or request body.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidMetadata signals value-score inputs outside [0,1].
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrDependencyUnhealthy signals that a dependency failed its probe.
	ErrDependencyUnhealthy = errors.New("dependency unhealthy")
	// ErrInferenceTimeout signals that the chosen inference backend did not answer in time.
	ErrInferenceTimeout = errors.New("inference timeout")
	// ErrInferenceFailed signals an inference backend failure other than a timeout.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrRemoteBudgetExceeded signals an exhausted remote token budget.
	ErrRemoteBudgetExceeded = errors.New("remote token budget exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrStoreWrite signals a failed interaction or knowledge write.
	ErrStoreWrite = errors.New("store write failed")
)

// ValidationError carries the machine-readable reason a query was rejected.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error with the given reason.
func NewValidationError(reason, detail string) error {
	return &ValidationError{Reason: reason, Detail: detail}
}

// RateLimitError wraps ErrRateLimited with the exhausted window and a retry hint.
type RateLimitError struct {
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s window, retry after %s", ErrRateLimited.Error(), e.Window, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
