package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// parseAPIError wraps a client error with sentinel and the most useful detail the provider sent.
// Context errors stay in the chain so callers can tell a timeout from a provider failure.
func parseAPIError(op string, err error, sentinel error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, err, sentinel)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: status %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, sentinel)
	}

	// Non-OpenAI error bodies (Ollama, vLLM) come back as RequestError.
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = truncate(string(reqErr.Body), 200)
		}
		return fmt.Errorf("%s: status %d: %s: %w", op, reqErr.HTTPStatusCode, detail, sentinel)
	}

	return fmt.Errorf("%s: %v: %w", op, err, sentinel)
}

// extractDetail reads {"detail": "..."} or {"error": "..."} bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	if s, ok := parsed.Error.(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
