package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// OllamaAdapter talks to a local or remote Ollama server through its native
// chat API. Unlike gollm, Ollama reports reasoning and token counts.
type OllamaAdapter struct {
	client *api.Client
	model  string
}

// NewOllamaAdapter creates an adapter for model. An empty baseURL reads
// OLLAMA_HOST from the environment.
func NewOllamaAdapter(model, baseURL string) (*OllamaAdapter, error) {
	if model == "" {
		return nil, configError("ollama requires a model")
	}
	if baseURL == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, &Error{Kind: KindConfig, Provider: "ollama", Message: "read OLLAMA_HOST", Err: err}
		}
		return &OllamaAdapter{client: client, model: model}, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Provider: "ollama", Message: fmt.Sprintf("invalid url %q", baseURL), Err: err}
	}
	return NewOllamaAdapterFromClient(api.NewClient(u, http.DefaultClient), model), nil
}

// NewOllamaAdapterFromClient wraps an existing api.Client.
func NewOllamaAdapterFromClient(client *api.Client, model string) *OllamaAdapter {
	return &OllamaAdapter{client: client, model: model}
}

// Name returns the provider identifier.
func (a *OllamaAdapter) Name() string { return "ollama" }

// Complete streams the response and accumulates it.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	ch, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := Collect(ctx, ch)
	if err != nil {
		return nil, err
	}
	resp.ID = "resp_" + uuid.NewString()[:8]
	resp.Model = a.modelFor(req)
	resp.Provider = a.Name()
	return resp, nil
}

// Stream sends a streaming chat request.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chatReq := a.translateRequest(req)
	ch := make(chan StreamEvent, 64)

	send := func(ev StreamEvent) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: StreamStart}

		err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Thinking != "" {
				if err := send(StreamEvent{Type: ReasoningDelta, ReasoningDelta: resp.Message.Thinking}); err != nil {
					return err
				}
			}
			if resp.Message.Content != "" {
				if err := send(StreamEvent{Type: TextDelta, Delta: resp.Message.Content}); err != nil {
					return err
				}
			}
			if !resp.Done {
				return nil
			}
			reason := resp.DoneReason
			if reason == "" {
				reason = FinishStop
			}
			return send(StreamEvent{
				Type:         StreamFinish,
				FinishReason: reason,
				Usage:        &Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount},
			})
		})
		if err != nil {
			ch <- StreamEvent{Type: StreamError, Error: a.translateError(err)}
		}
	}()

	return ch, nil
}

func (a *OllamaAdapter) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.model
}

func (a *OllamaAdapter) translateRequest(req Request) *api.ChatRequest {
	stream := true
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Text})
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		options["stop"] = req.StopSequences
	}

	return &api.ChatRequest{
		Model:    a.modelFor(req),
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}
}

func (a *OllamaAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return abortError("request cancelled", err)
	}
	var status api.StatusError
	if errors.As(err, &status) {
		msg := status.ErrorMessage
		if msg == "" {
			msg = status.Status
		}
		return StatusError(a.Name(), status.StatusCode, msg)
	}
	return &Error{Kind: KindNetwork, Provider: a.Name(), Message: "chat request failed", Err: err}
}
