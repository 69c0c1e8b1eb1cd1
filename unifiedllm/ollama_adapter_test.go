package unifiedllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter, err := NewOllamaAdapter("qwen2.5-coder", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return adapter
}

func TestOllamaAdapterStream(t *testing.T) {
	var got map[string]any
	adapter := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"model":"qwen2.5-coder","message":{"role":"assistant","content":"","thinking":"plan"},"done":false}`,
			`{"model":"qwen2.5-coder","message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"model":"qwen2.5-coder","message":{"role":"assistant","content":" world"},"done":false}`,
			`{"model":"qwen2.5-coder","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":3}`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	})

	temp := 0.1
	ch, err := adapter.Stream(context.Background(), Request{
		Messages:    []Message{SystemMessage("sys"), UserMessage("hi")},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if resp.Text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", resp.Text)
	}
	if resp.Reasoning != "plan" {
		t.Errorf("expected reasoning %q, got %q", "plan", resp.Reasoning)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	if got["model"] != "qwen2.5-coder" {
		t.Errorf("expected model in request, got %v", got["model"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
	opts, _ := got["options"].(map[string]any)
	if opts["temperature"] != 0.1 {
		t.Errorf("expected temperature option, got %v", opts)
	}
}

func TestOllamaAdapterComplete(t *testing.T) {
	adapter := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"done"},"done":true,"prompt_eval_count":1,"eval_count":1}` + "\n"))
	})
	resp, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "done" || resp.Provider != "ollama" || resp.Model != "qwen2.5-coder" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOllamaAdapterStatusError(t *testing.T) {
	adapter := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"qwen2.5-coder\" not found"}`))
	})
	_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("missing model must not be retried")
	}
}

func TestOllamaAdapterRequiresModel(t *testing.T) {
	if _, err := NewOllamaAdapter("", "http://localhost:11434"); KindOf(err) != KindConfig {
		t.Fatalf("expected config error without model, got %v", err)
	}
}
