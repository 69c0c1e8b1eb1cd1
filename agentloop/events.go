package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of task event.
type EventKind string

const (
	EventTaskStart      EventKind = "task_start"
	EventTaskEnd        EventKind = "task_end"
	EventStateChange    EventKind = "state_change"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventContentDelta   EventKind = "content_delta"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventRoundEnd       EventKind = "round_end"
	EventStagnation     EventKind = "stagnation"
	EventTurnLimit      EventKind = "turn_limit"
	EventWarning        EventKind = "warning"
	EventError          EventKind = "error"
)

// Event is a typed event emitted while a task runs.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	TaskID    string                 `json:"task_id"`
	AgentID   string                 `json:"agent_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application via a channel. One
// emitter may be shared by every task in a pipeline.
type EventEmitter struct {
	ch      chan Event
	closed  bool
	dropped int
	mu      sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event to the channel. If the emitter is closed or the
// buffer is full, the event is dropped.
func (e *EventEmitter) Emit(kind EventKind, task *Task, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{Kind: kind, Timestamp: time.Now(), Data: data}
	if task != nil {
		event.TaskID = task.ID
		event.AgentID = task.AgentID
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
