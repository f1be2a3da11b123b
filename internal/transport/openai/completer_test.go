package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func chatServer(t *testing.T, content string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "qwen2.5-coder:7b",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCompleter(baseURL string, rps float64) *Completer {
	return NewCompleter(&CompleterConfig{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		Model:             "qwen2.5-coder:7b",
		MaxTokens:         512,
		RequestsPerSecond: rps,
		Backend:           "local",
		Logger:            zap.NewNop(),
	})
}

func TestCompleter_Complete(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, "Use systemd-networkd.", &req)

	out, err := newTestCompleter(srv.URL, 0).Complete(context.Background(), domain.Prompt{
		System: "Relevant context: ...",
		User:   "How do I configure networking?",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "Use systemd-networkd." {
		t.Errorf("text = %q", out.Text)
	}
	if out.PromptTokens != 30 || out.CompletionTokens != 12 || out.TotalTokens() != 42 {
		t.Errorf("usage = %d/%d", out.PromptTokens, out.CompletionTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if req.MaxTokens != 512 {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
}

func TestCompleter_NoSystemMessage(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, "ok", &req)

	if _, err := newTestCompleter(srv.URL, 0).Complete(context.Background(), domain.Prompt{User: "hi"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestCompleter_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, "   ", nil)

	_, err := newTestCompleter(srv.URL, 0).Complete(context.Background(), domain.Prompt{User: "hi"})
	if !errors.Is(err, domain.ErrInferenceFailed) {
		t.Fatalf("expected ErrInferenceFailed, got %v", err)
	}
}

func TestCompleter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"upstream unavailable"}`))
	}))
	defer srv.Close()

	_, err := newTestCompleter(srv.URL, 0).Complete(context.Background(), domain.Prompt{User: "hi"})
	if !errors.Is(err, domain.ErrInferenceFailed) {
		t.Fatalf("expected ErrInferenceFailed, got %v", err)
	}
}

func TestCompleter_TimeoutKeepsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestCompleter(srv.URL, 0).Complete(ctx, domain.Prompt{User: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestCompleter_Throttled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestCompleter(srv.URL, 1) // one request per second, burst 1
	if _, err := c.Complete(context.Background(), domain.Prompt{User: "a"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, domain.Prompt{User: "b"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second call inside the same second must fail with the deadline, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}

func TestCompleter_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := newTestCompleter(srv.URL, 0).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}
