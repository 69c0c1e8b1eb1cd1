package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/toolblock"
	"github.com/martinemde/taskloop/tools"
)

// DefaultMaxDepth allows a top-level agent to delegate once; delegated
// agents cannot delegate further.
const DefaultMaxDepth = 1

type depthKey struct{}

// Depth returns how many delegations deep ctx is. Top-level runs are at 0.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// RegisterAgentTool adds the agent delegation tool to table. The table
// should be the one behind the Orchestrator's executor.
func (o *Orchestrator) RegisterAgentTool(table *tools.Table) {
	table.Register(tools.Tool{
		Name:    "agent",
		Handler: o.agentTool,
		Usage: `Delegate a self-contained task to another agent and wait for its answer.
First line: the agent id. Remaining lines: the task. Known agents: ` + strings.Join(o.personas.IDs(), ", ") + `.
<tool:agent>
reviewer
Review internal/cache/lru.go for concurrency bugs.
</tool>`,
	})
}

func (o *Orchestrator) agentTool(ctx context.Context, call toolblock.Call, _ tools.Environment) tools.Result {
	agentID := call.Arg(toolblock.ArgAgent)
	description := call.Arg(toolblock.ArgTask)

	depth := Depth(ctx)
	if depth >= o.maxDepth {
		return tools.Fail("agent", "cannot delegate to %s: maximum agent nesting depth (%d) reached; do the work yourself", agentID, o.maxDepth)
	}

	run := o.Run(withDepth(ctx, depth+1), agentID, description)
	task := run.Task

	var out strings.Builder
	fmt.Fprintf(&out, "Agent %s %s after %d round(s)", agentID, task.Status, task.Rounds)
	if len(task.ToolsUsed) > 0 {
		fmt.Fprintf(&out, " using %s", strings.Join(task.ToolsUsed, ", "))
	}
	out.WriteString(".\n")
	if task.Error != "" {
		fmt.Fprintf(&out, "Error: %s\n", task.Error)
	}
	if run.Final != "" {
		out.WriteString("\n" + run.Final)
	}

	return tools.Result{
		Tool:    "agent",
		Success: task.Status == agentloop.StatusCompleted,
		Output:  strings.TrimRight(out.String(), "\n"),
	}
}
