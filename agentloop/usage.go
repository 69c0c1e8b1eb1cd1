package agentloop

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/martinemde/taskloop/unifiedllm"
)

// TokenUsage is the token count of one model call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// UsageTracker estimates token usage when a provider reports none and
// prices usage in USD.
type UsageTracker interface {
	Estimate(model string, prompt []Message, completion string) TokenUsage
	Cost(model string, usage TokenUsage) float64
}

const perMessageOverhead = 4

// TokenTracker counts tokens with tiktoken, falling back to cl100k_base for
// unknown models and to four characters per token when no encoding loads.
// Prices come from the unifiedllm catalog.
type TokenTracker struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	load     func(model string) *tiktoken.Tiktoken
}

// NewTokenTracker creates a TokenTracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{encoders: map[string]*tiktoken.Tiktoken{}, load: encodingForModel}
}

// Estimate implements UsageTracker.
func (t *TokenTracker) Estimate(model string, prompt []Message, completion string) TokenUsage {
	enc := t.encoder(model)
	in := 0
	for _, m := range prompt {
		in += tokenCount(enc, m.Content) + perMessageOverhead
	}
	return TokenUsage{InputTokens: in, OutputTokens: tokenCount(enc, completion)}
}

// Cost implements UsageTracker. Unknown models cost nothing.
func (t *TokenTracker) Cost(model string, usage TokenUsage) float64 {
	cost, _ := unifiedllm.CostFor(model, usage.InputTokens, usage.OutputTokens)
	return cost
}

func (t *TokenTracker) encoder(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encoders[model]; ok {
		return enc
	}
	var enc *tiktoken.Tiktoken
	if t.load != nil {
		enc = t.load(model)
	}
	t.encoders[model] = enc
	return enc
}

func encodingForModel(model string) *tiktoken.Tiktoken {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return enc
}

func tokenCount(enc *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}
