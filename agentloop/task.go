package agentloop

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// Task is one sub-agent run. Only the Controller running it mutates it, and
// it never changes after reaching a terminal status.
type Task struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	Description string        `json:"description"`
	Status      TaskStatus    `json:"status"`
	Result      string        `json:"result"`
	Error       string        `json:"error,omitempty"`
	ToolsUsed   []string      `json:"tools_used"`
	TokensUsed  int           `json:"tokens_used"`
	CostUSD     float64       `json:"cost_usd"`
	Rounds      int           `json:"rounds"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration"`
}

// NewTask creates a pending task.
func NewTask(agentID, description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Description: description,
		Status:      StatusPending,
		ToolsUsed:   []string{},
	}
}

// SetStatus moves the task forward. Backward moves and any move out of a
// terminal status are ignored; the return value reports whether the status
// changed.
func (t *Task) SetStatus(s TaskStatus) bool {
	if t.Status.Terminal() || s.rank() <= t.Status.rank() {
		return false
	}
	t.Status = s
	return true
}

// UsedTool records name in ToolsUsed if it is not already there.
func (t *Task) UsedTool(name string) {
	for _, n := range t.ToolsUsed {
		if n == name {
			return
		}
	}
	t.ToolsUsed = append(t.ToolsUsed, name)
}

// Snapshot returns a copy safe to hand to other goroutines.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.ToolsUsed = append([]string(nil), t.ToolsUsed...)
	return cp
}
