package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zulandar/callsheet/internal/ai"
)

// wireRequest is the subset of a Messages API request the tests inspect.
type wireRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func writeMessage(w http.ResponseWriter, texts ...string) {
	content := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		content = append(content, map[string]any{"type": "text", "text": t})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       "test-model",
		"content":     content,
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 2},
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(ClientOpts{APIKey: "test-key", Model: "test-model", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(ClientOpts{Model: "m"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := New(ClientOpts{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
	c, err := New(ClientOpts{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.maxTokens != defaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", c.maxTokens, defaultMaxTokens)
	}
}

func TestGenerate_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key test-key, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("expected anthropic-version 2023-06-01, got %q", r.Header.Get("anthropic-version"))
		}

		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		if len(req.System) != 1 || req.System[0].Text != "you are an HR expert" {
			t.Errorf("expected system prompt, got %+v", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" ||
			len(req.Messages[0].Content) != 1 || req.Messages[0].Content[0].Text != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens != 100 {
			t.Errorf("expected max_tokens 100, got %d", req.MaxTokens)
		}

		writeMessage(w, "wor", "ld")
	})

	// An OpenAI model name is swapped for the client's own model.
	result, err := c.Generate(context.Background(), ai.GenerateRequest{
		System:    "you are an HR expert",
		User:      "hello",
		Model:     "gpt-4o-mini",
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "world" {
		t.Errorf("expected 'world', got %q", result)
	}
}

func TestGenerate_NoSystemPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["system"]; ok {
			t.Errorf("system should be omitted, got %s", raw["system"])
		}
		var maxTokens int
		json.Unmarshal(raw["max_tokens"], &maxTokens)
		if maxTokens != defaultMaxTokens {
			t.Errorf("max_tokens = %d, want %d", maxTokens, defaultMaxTokens)
		}
		writeMessage(w, "ok")
	})

	if _, err := c.Generate(context.Background(), ai.GenerateRequest{User: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerate_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "max_tokens is too large",
			},
		})
	})

	_, err := c.Generate(context.Background(), ai.GenerateRequest{User: "hi"})
	if err == nil {
		t.Fatal("expected error for API error response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "max_tokens is too large") {
		t.Errorf("err = %q", err)
	}
}

func TestGenerate_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})

	if _, err := c.Generate(context.Background(), ai.GenerateRequest{User: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestGenerate_EmptyContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w)
	})

	out, err := c.Generate(context.Background(), ai.GenerateRequest{User: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
}
