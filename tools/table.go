package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/martinemde/taskloop/toolblock"
)

// Handler executes one call. It must not panic and must report failure
// through Result.Success.
type Handler func(ctx context.Context, call toolblock.Call, env Environment) Result

// Tool pairs a name with its handler and a usage snippet shown to the model.
type Tool struct {
	Name    string
	Usage   string
	Handler Handler
	// ReadOnly tools do not change the filesystem.
	ReadOnly bool
}

// Table maps tool names to tools. It is passed explicitly to whatever needs
// it; there is no package-level registry.
type Table struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (t *Table) Register(tool Tool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[tool.Name] = &tool
}

// Unregister removes a tool.
func (t *Table) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tools, name)
}

// Get returns a tool by name, or nil if it is not registered.
func (t *Table) Get(name string) *Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tools[name]
}

// Has reports whether name is registered.
func (t *Table) Has(name string) bool {
	return t.Get(name) != nil
}

// Names returns the registered names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tools)
}

// Clone returns a copy that can be modified independently.
func (t *Table) Clone() *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clone := NewTable()
	for name, tool := range t.tools {
		cloned := *tool
		clone.tools[name] = &cloned
	}
	return clone
}

// MergeFrom copies every tool from other, overwriting same-named entries.
func (t *Table) MergeFrom(other *Table) {
	if other == t {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, tool := range other.tools {
		cloned := *tool
		t.tools[name] = &cloned
	}
}

// UsageGuide renders the usage snippet of every tool, sorted by name, for
// inclusion in a system prompt.
func (t *Table) UsageGuide() string {
	var sb strings.Builder
	sb.WriteString("You can use tools by writing blocks of the form:\n\n")
	sb.WriteString(toolblock.Format("NAME", "arguments"))
	sb.WriteString("\n\nTool results are returned in the next message. Available tools:\n")
	for _, name := range t.Names() {
		tool := t.Get(name)
		if tool == nil {
			continue
		}
		sb.WriteString("\n## " + name + "\n")
		if tool.Usage != "" {
			sb.WriteString(strings.TrimSpace(tool.Usage) + "\n")
		}
	}
	return sb.String()
}
