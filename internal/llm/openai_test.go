package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testServer runs an httptest server with the given handler and returns
// a client pointed at it.
func testServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient("test-key", srv.URL, nil)
}

func TestComplete_Success(t *testing.T) {
	var gotReq chatRequest
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		json.NewEncoder(w).Encode(chatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-3.5-turbo",
			Choices: []chatChoice{
				{Message: chatMessage{Role: "assistant", Content: "Quantum physics is..."}},
			},
			Usage: &chatUsage{PromptTokens: 20, CompletionTokens: 22, TotalTokens: 42},
		})
	})

	resp, err := c.Complete(context.Background(), Request{
		Model:        "gpt-3.5-turbo",
		SystemPrompt: "You are a helpful AI assistant.",
		UserMessage:  "Explain quantum physics",
		MaxTokens:    500,
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Text != "Quantum physics is..." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", resp.TotalTokens)
	}
	if resp.Choices != 1 {
		t.Errorf("Choices = %d, want 1", resp.Choices)
	}

	// Wire format: system then user, fixed temperature.
	if len(gotReq.Messages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("roles = %q, %q", gotReq.Messages[0].Role, gotReq.Messages[1].Role)
	}
	if gotReq.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", gotReq.Temperature)
	}
	if gotReq.MaxTokens != 500 {
		t.Errorf("MaxTokens = %d, want 500", gotReq.MaxTokens)
	}
}

func TestComplete_NoUsageBlock(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "hi"}}},
		})
	})

	resp, err := c.Complete(context.Background(), Request{Model: "gpt-4", UserMessage: "hi", SystemPrompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.TotalTokens != 0 {
		t.Errorf("TotalTokens = %d, want 0 when usage absent", resp.TotalTokens)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"rate_limit_exceeded"}}`, http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4", UserMessage: "hi", SystemPrompt: "x"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.Kind != KindRateLimited {
		t.Errorf("Kind = %v, want KindRateLimited", perr.Kind)
	}
	if perr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", perr.Status)
	}
}

func TestComplete_ServerError(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4", UserMessage: "hi", SystemPrompt: "x"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.Kind != KindUnavailable {
		t.Errorf("Kind = %v, want KindUnavailable", perr.Kind)
	}
}

func TestComplete_BadRequest(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	})

	_, err := c.Complete(context.Background(), Request{Model: "nope", UserMessage: "hi", SystemPrompt: "x"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.Kind != KindBadRequest {
		t.Errorf("Kind = %v, want KindBadRequest", perr.Kind)
	}
}

func TestComplete_Timeout(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(chatResponse{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, Request{Model: "gpt-4", UserMessage: "hi", SystemPrompt: "x"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.Kind != KindUnavailable {
		t.Errorf("Kind = %v, want KindUnavailable on timeout", perr.Kind)
	}
}

func TestPing(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		w.Write([]byte(`{"data":[]}`))
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPing_InvalidKey(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should fail on 401")
	}
}
