package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a recorded filesystem change.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// Change is a reversible record of one mutation. Before holds the prior
// content when Existed is true.
type Change struct {
	ID      string     `json:"id"`
	TaskID  string     `json:"task_id,omitempty"`
	Tool    string     `json:"tool"`
	Path    string     `json:"path"`
	Kind    ChangeKind `json:"kind"`
	Existed bool       `json:"existed"`
	Before  []byte     `json:"before,omitempty"`
	After   []byte     `json:"after,omitempty"`
	Time    time.Time  `json:"time"`
	Undone  bool       `json:"undone"`
}

// Journal stores changes so they can be undone later.
type Journal interface {
	Record(ctx context.Context, c Change) error
	Changes(ctx context.Context) ([]Change, error)
	MarkUndone(ctx context.Context, id string) error
}

// ErrNothingToUndo is returned by UndoLast when every change is undone.
var ErrNothingToUndo = errors.New("nothing to undo")

// NewChange fills in the identity fields of a change. path should already be
// resolved against the workspace.
func NewChange(ctx context.Context, tool, path string, kind ChangeKind) Change {
	return Change{
		ID:     uuid.New().String(),
		TaskID: TaskIDFrom(ctx),
		Tool:   tool,
		Path:   path,
		Kind:   kind,
		Time:   time.Now(),
	}
}

// Undo restores the filesystem to its state before change id.
func Undo(ctx context.Context, j Journal, id string) (Change, error) {
	changes, err := j.Changes(ctx)
	if err != nil {
		return Change{}, err
	}
	for _, c := range changes {
		if c.ID != id {
			continue
		}
		if c.Undone {
			return c, fmt.Errorf("change %s already undone", id)
		}
		return c, revert(ctx, j, c)
	}
	return Change{}, fmt.Errorf("change %s not found", id)
}

// UndoLast reverts the most recent change that has not been undone.
func UndoLast(ctx context.Context, j Journal) (Change, error) {
	changes, err := j.Changes(ctx)
	if err != nil {
		return Change{}, err
	}
	for i := len(changes) - 1; i >= 0; i-- {
		if !changes[i].Undone {
			return changes[i], revert(ctx, j, changes[i])
		}
	}
	return Change{}, ErrNothingToUndo
}

func revert(ctx context.Context, j Journal, c Change) error {
	if c.Existed {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return fmt.Errorf("undo %s: %w", c.Path, err)
		}
		if err := os.WriteFile(c.Path, c.Before, 0o644); err != nil {
			return fmt.Errorf("undo %s: %w", c.Path, err)
		}
	} else if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("undo %s: %w", c.Path, err)
	}
	return j.MarkUndone(ctx, c.ID)
}

// MemoryJournal keeps changes in process memory.
type MemoryJournal struct {
	changes []Change
	mu      sync.Mutex
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(_ context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	return nil
}

func (m *MemoryJournal) Changes(_ context.Context) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Change, len(m.changes))
	copy(out, m.changes)
	return out, nil
}

func (m *MemoryJournal) MarkUndone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.changes {
		if m.changes[i].ID == id {
			m.changes[i].Undone = true
			return nil
		}
	}
	return fmt.Errorf("change %s not found", id)
}

type taskIDKey struct{}

// WithTaskID attaches the running task's id so recorded changes can be
// traced back to it.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFrom returns the task id attached by WithTaskID, or "".
func TaskIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
