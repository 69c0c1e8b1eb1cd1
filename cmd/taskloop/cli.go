// Package main defines the taskloop command line.
package main

import "github.com/alecthomas/kong"

// Build-time variables (set via ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

// Globals are flags shared by every command.
type Globals struct {
	Config    string `short:"c" help:"Config file path (default ./taskloop.toml)" type:"path"`
	Workspace string `short:"w" help:"Workspace directory (overrides config)" type:"path"`
	Provider  string `help:"LLM provider (overrides config)"`
	Model     string `short:"m" help:"Model id (overrides config)"`
	LogLevel  string `help:"Log level: debug, info, warn, error (overrides config)" enum:",debug,info,warn,error" default:""`
	EnvFile   string `help:"Extra .env file to load" type:"path"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Run one task with an agent"`
	Pipeline PipelineCmd `cmd:"" help:"Run a pipeline file step by step"`
	History  HistoryCmd  `cmd:"" help:"Show recorded tasks"`
	Undo     UndoCmd     `cmd:"" help:"Revert a file change made by a tool"`
	Tools    ToolsCmd    `cmd:"" help:"List available tools"`
	Personas PersonasCmd `cmd:"" help:"List available agents"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd runs a single task.
type RunCmd struct {
	Agent    string   `arg:"" help:"Agent id (coder, reviewer, researcher, tester, planner, ...)"`
	Task     []string `arg:"" help:"Task description"`
	MaxTurns int      `help:"Turn cap for this run (overrides config)"`
	JSON     bool     `help:"Print the finished task as JSON"`
	Quiet    bool     `short:"q" help:"Do not stream model output"`
}

// PipelineCmd runs a pipeline file.
type PipelineCmd struct {
	File  string `arg:"" help:"Pipeline YAML file" type:"existingfile"`
	JSON  bool   `help:"Print the finished tasks as JSON"`
	Quiet bool   `short:"q" help:"Do not stream model output"`
}

// HistoryCmd lists recorded tasks.
type HistoryCmd struct {
	ID    string `arg:"" optional:"" help:"Show one task and its file changes"`
	Limit int    `short:"n" default:"20" help:"Number of tasks to list"`
}

// UndoCmd reverts journaled changes.
type UndoCmd struct {
	ID   string `arg:"" optional:"" help:"Change id (default: most recent)"`
	List bool   `short:"l" help:"List changes instead of undoing"`
}

// ToolsCmd lists the tool table.
type ToolsCmd struct {
	Usage bool `help:"Print each tool's usage text"`
}

// PersonasCmd lists the persona registry.
type PersonasCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
