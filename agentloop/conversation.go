package agentloop

import (
	"time"

	"github.com/martinemde/taskloop/unifiedllm"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a Conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the append-only message history of a single task.
type Conversation struct {
	messages []Message
}

// NewConversation starts a conversation with a system prompt and the task
// description.
func NewConversation(system, user string) *Conversation {
	c := &Conversation{}
	if system != "" {
		c.Append(RoleSystem, system)
	}
	c.Append(RoleUser, user)
	return c
}

// Append adds a message at the end.
func (c *Conversation) Append(role Role, content string) {
	c.messages = append(c.messages, Message{Role: role, Content: content, Timestamp: time.Now()})
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// LastAssistant returns the most recent assistant content, or "".
func (c *Conversation) LastAssistant() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i].Content
		}
	}
	return ""
}

// ToUnifiedMessages converts history into provider SDK messages.
func ToUnifiedMessages(msgs []Message) []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, unifiedllm.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, unifiedllm.AssistantMessage(m.Content))
		default:
			out = append(out, unifiedllm.UserMessage(m.Content))
		}
	}
	return out
}
