package unifiedllm

import "encoding/json"

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Agents exchange plain text; tool calls
// travel inside the text as tool blocks.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Text: text} }

// UserMessage creates a user Message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// AssistantMessage creates an assistant Message.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// ToolCall is a provider-native tool invocation. Providers that support
// function calling may emit these alongside text.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage is token consumption as reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Request is the input to Complete and Stream. An empty Provider routes to
// the client's default; an empty Model uses the adapter's.
type Request struct {
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model,omitempty"`
	Messages        []Message `json:"messages"`
	Temperature     *float64  `json:"temperature,omitempty"`
	MaxTokens       *int      `json:"max_tokens,omitempty"`
	StopSequences   []string  `json:"stop_sequences,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
}

// Finish reasons.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishTools  = "tool_calls"
)

// Response is a complete model reply.
type Response struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Text         string     `json:"text"`
	Reasoning    string     `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	// Usage is nil when the provider does not report token counts.
	Usage *Usage `json:"usage,omitempty"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamStart    StreamEventType = "stream_start"
	TextDelta      StreamEventType = "text_delta"
	ReasoningDelta StreamEventType = "reasoning_delta"
	ToolCallEnd    StreamEventType = "tool_call_end"
	StreamFinish   StreamEventType = "finish"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one event of a streamed reply. A stream ends with exactly
// one StreamFinish or StreamError event before the channel closes.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	Delta          string          `json:"delta,omitempty"`
	ReasoningDelta string          `json:"reasoning_delta,omitempty"`
	ToolCall       *ToolCall       `json:"tool_call,omitempty"`
	FinishReason   string          `json:"finish_reason,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
	Error          error           `json:"-"`
}
