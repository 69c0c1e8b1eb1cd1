package agentloop

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/martinemde/taskloop/unifiedllm"
)

// UnitKind tags a StreamUnit.
type UnitKind string

const (
	UnitReasoning UnitKind = "reasoning"
	UnitContent   UnitKind = "content"
	UnitToolCall  UnitKind = "tool_call"
	UnitUsage     UnitKind = "usage"
)

// StreamUnit is one piece of a streamed model response. A unit with a
// non-nil Err ends the stream.
type StreamUnit struct {
	Kind  UnitKind
	Text  string
	Call  *toolblock.Call
	Usage *TokenUsage
	Err   error
}

// GenerationConfig carries per-request model settings.
type GenerationConfig struct {
	Provider        string
	Model           string
	MaxTokens       int
	Temperature     *float64
	ReasoningEffort string
}

// Streamer produces a model response for a conversation as a channel of
// units. The channel is closed when the response ends.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan StreamUnit, error)
}

// StreamerFunc adapts a function to the Streamer interface.
type StreamerFunc func(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan StreamUnit, error)

// Stream calls f.
func (f StreamerFunc) Stream(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan StreamUnit, error) {
	return f(ctx, messages, cfg)
}

// ClientStreamer streams through a unifiedllm.Client.
type ClientStreamer struct {
	client *unifiedllm.Client
}

// NewClientStreamer wraps client.
func NewClientStreamer(client *unifiedllm.Client) *ClientStreamer {
	return &ClientStreamer{client: client}
}

// Stream implements Streamer.
func (s *ClientStreamer) Stream(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan StreamUnit, error) {
	req := unifiedllm.Request{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Messages:        ToUnifiedMessages(messages),
		Temperature:     cfg.Temperature,
		ReasoningEffort: cfg.ReasoningEffort,
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		req.MaxTokens = &n
	}

	events, err := s.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamUnit, 64)
	go func() {
		defer close(out)
		for ev := range events {
			unit, ok := unitFromEvent(ev)
			if !ok {
				continue
			}
			select {
			case out <- unit:
			case <-ctx.Done():
				// Drain so the adapter goroutine can exit.
				for range events {
				}
				return
			}
			if unit.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

func unitFromEvent(ev unifiedllm.StreamEvent) (StreamUnit, bool) {
	switch ev.Type {
	case unifiedllm.TextDelta:
		return StreamUnit{Kind: UnitContent, Text: ev.Delta}, ev.Delta != ""
	case unifiedllm.ReasoningDelta:
		return StreamUnit{Kind: UnitReasoning, Text: ev.ReasoningDelta}, ev.ReasoningDelta != ""
	case unifiedllm.ToolCallEnd:
		if ev.ToolCall == nil {
			return StreamUnit{}, false
		}
		call := nativeCall(*ev.ToolCall)
		return StreamUnit{Kind: UnitToolCall, Call: &call}, true
	case unifiedllm.StreamFinish:
		if ev.Usage == nil {
			return StreamUnit{}, false
		}
		return StreamUnit{Kind: UnitUsage, Usage: &TokenUsage{
			InputTokens:  ev.Usage.InputTokens,
			OutputTokens: ev.Usage.OutputTokens,
		}}, true
	case unifiedllm.StreamError:
		return StreamUnit{Err: ev.Error}, true
	}
	return StreamUnit{}, false
}

// primaryArgKeys are checked in order when a native call does not name the
// single free-form argument explicitly.
var primaryArgKeys = []string{toolblock.ArgValue, "command", "query", "url", toolblock.ArgPath}

// nativeCall converts a provider-native tool call into the same shape the
// text extractor produces. The raw JSON arguments become the body.
func nativeCall(tc unifiedllm.ToolCall) toolblock.Call {
	name := tc.Name
	if toolblock.IsBuiltin(name) {
		name = strings.ToLower(name)
	}
	call := toolblock.Call{Name: name, Args: map[string]string{}, Body: string(tc.Arguments)}

	var obj map[string]any
	if err := json.Unmarshal(tc.Arguments, &obj); err != nil {
		call.Err = "arguments are not a JSON object"
		return call
	}
	for k, v := range obj {
		switch x := v.(type) {
		case string:
			call.Args[k] = x
		default:
			b, _ := json.Marshal(x)
			call.Args[k] = string(b)
		}
	}
	if _, ok := call.Args[toolblock.ArgValue]; !ok {
		for _, k := range primaryArgKeys {
			if v, ok := call.Args[k]; ok {
				call.Args[toolblock.ArgValue] = v
				break
			}
		}
	}
	return call
}
