package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves the hosted providers gollm supports (openai,
// anthropic, groq, mistral, ...). gollm takes a single prompt string and
// does not report token usage.
type GollmAdapter struct {
	provider string
	model    string
	llm      gollm.LLM
}

type gollmSettings struct {
	model       string
	maxTokens   int
	temperature float64
	extra       []gollm.ConfigOption
}

// GollmOption configures NewGollmAdapter.
type GollmOption func(*gollmSettings)

// WithModel sets the adapter's model. Without it the catalog's first model
// for the provider is used.
func WithModel(model string) GollmOption {
	return func(s *gollmSettings) { s.model = model }
}

// WithMaxTokens sets the default completion limit.
func WithMaxTokens(n int) GollmOption {
	return func(s *gollmSettings) { s.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(s *gollmSettings) { s.temperature = t }
}

// WithGollmOptions passes extra options straight to gollm.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(s *gollmSettings) { s.extra = append(s.extra, opts...) }
}

// NewGollmAdapter creates an adapter for provider. An empty apiKey lets
// gollm read the provider's environment variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmOption) (*GollmAdapter, error) {
	s := gollmSettings{maxTokens: 4096, temperature: 0.2}
	for _, opt := range opts {
		opt(&s)
	}
	if s.model == "" {
		m, ok := DefaultModel(provider)
		if !ok {
			return nil, configError("no model configured for provider %q", provider)
		}
		s.model = m
	}

	config := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(s.model),
		gollm.SetMaxTokens(s.maxTokens),
		gollm.SetTemperature(s.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		config = append(config, gollm.SetAPIKey(apiKey))
	}
	config = append(config, s.extra...)

	llm, err := gollm.NewLLM(config...)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Provider: provider, Message: "create client", Err: err}
	}
	return &GollmAdapter{provider: provider, model: s.model, llm: llm}, nil
}

// Name returns the provider name.
func (a *GollmAdapter) Name() string { return a.provider }

// Complete generates a full reply.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.prepare(req)
	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.classify(err)
	}
	model := req.Model
	if model == "" {
		model = a.model
	}
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Provider:     a.provider,
		Model:        model,
		Text:         text,
		FinishReason: FinishStop,
	}, nil
}

// Stream streams a reply. Providers without streaming support deliver the
// whole reply as one delta.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.prepare(req)
	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: StreamStart}
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: a.classify(err)}
				return
			}
			ch <- StreamEvent{Type: TextDelta, Delta: text}
			ch <- StreamEvent{Type: StreamFinish, FinishReason: FinishStop}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.classify(err)
	}
	go func() {
		defer close(ch)
		defer stream.Close()
		ch <- StreamEvent{Type: StreamStart}
		for {
			tok, err := stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				ch <- StreamEvent{Type: StreamFinish, FinishReason: FinishStop}
				return
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: a.classify(err)}
				return
			}
			if tok == nil || tok.Text == "" {
				continue
			}
			select {
			case ch <- StreamEvent{Type: TextDelta, Delta: tok.Text}:
			case <-ctx.Done():
				ch <- StreamEvent{Type: StreamError, Error: abortError("stream cancelled", ctx.Err())}
				return
			}
		}
	}()
	return ch, nil
}

// prepare applies per-request settings and builds the prompt.
func (a *GollmAdapter) prepare(req Request) *gollm.Prompt {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
	return flattenPrompt(req)
}

// flattenPrompt folds the conversation into gollm's single prompt. System
// messages become the system prompt; earlier assistant turns are labelled
// so the model can tell them apart from tool results.
func flattenPrompt(req Request) *gollm.Prompt {
	var system, turns []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Text)
		case RoleAssistant:
			if m.Text != "" {
				turns = append(turns, "[Assistant]: "+m.Text)
			}
		default:
			turns = append(turns, m.Text)
		}
	}

	var opts []gollm.PromptOption
	if sys := strings.TrimSpace(strings.Join(system, "\n")); sys != "" {
		opts = append(opts, gollm.WithSystemPrompt(sys, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	input := strings.Join(turns, "\n\n")
	if input == "" {
		input = "Hello"
	}
	return gollm.NewPrompt(input, opts...)
}

// gollm reports provider failures as plain strings, so they are classified
// by the first matching fragment.
var gollmErrorPatterns = []struct {
	fragments []string
	kind      Kind
	status    int
}{
	{[]string{"401", "unauthorized", "invalid api key", "invalid key"}, KindAuth, http.StatusUnauthorized},
	{[]string{"403", "forbidden"}, KindAccessDenied, http.StatusForbidden},
	{[]string{"429", "rate limit"}, KindRateLimit, http.StatusTooManyRequests},
	{[]string{"context length", "too many tokens", "maximum context"}, KindContextLength, http.StatusRequestEntityTooLarge},
	{[]string{"404", "not found"}, KindNotFound, http.StatusNotFound},
	{[]string{"500", "502", "503", "internal server", "overloaded"}, KindServer, http.StatusInternalServerError},
	{[]string{"timeout", "timed out"}, KindTimeout, 0},
	{[]string{"content filter", "safety"}, KindContentFilter, 0},
}

func (a *GollmAdapter) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return abortError("request cancelled", err)
	}
	msg := strings.ToLower(err.Error())
	for _, p := range gollmErrorPatterns {
		for _, f := range p.fragments {
			if strings.Contains(msg, f) {
				return &Error{Kind: p.kind, Provider: a.provider, Status: p.status, Message: "request failed", Err: err}
			}
		}
	}
	return &Error{Kind: KindUnknown, Provider: a.provider, Message: fmt.Sprintf("request failed via %s", a.model), Err: err}
}
