package domain

import "context"

// Prompt is a single-turn chat prompt for an inference backend.
type Prompt struct {
	System string
	User   string
}

// Completion is an inference backend answer with its token usage.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens.
func (c Completion) TotalTokens() int { return c.PromptTokens + c.CompletionTokens }

// Completer is the contract shared by the local and remote inference backends.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}
