// Package tools executes tool calls extracted from model output against the
// local workspace.
//
// A Table maps names to handlers. The Executor looks calls up in its Table,
// runs them against an Environment and converts every outcome, including
// panics and malformed blocks, into a Result.
package tools

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/martinemde/taskloop/toolblock"
)

// Executor runs calls against a Table and an Environment.
type Executor struct {
	table      *Table
	env        Environment
	logger     *slog.Logger
	charLimits map[string]int
	lineLimits map[string]int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for per-call logging.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOutputLimits overrides the per-tool character and line limits.
func WithOutputLimits(chars, lines map[string]int) ExecutorOption {
	return func(e *Executor) {
		e.charLimits = chars
		e.lineLimits = lines
	}
}

// NewExecutor creates an Executor.
func NewExecutor(table *Table, env Environment, opts ...ExecutorOption) *Executor {
	e := &Executor{
		table:  table,
		env:    env,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the executor's tool table.
func (e *Executor) Table() *Table { return e.table }

// Environment returns the executor's environment.
func (e *Executor) Environment() Environment { return e.env }

// Known reports whether name resolves to a registered tool.
func (e *Executor) Known(name string) bool { return e.table.Has(name) }

// Execute runs a single call. It always returns a Result.
func (e *Executor) Execute(ctx context.Context, call toolblock.Call) (res Result) {
	start := time.Now()
	logger := e.logger.With("tool", call.Name, "task_id", TaskIDFrom(ctx))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "panic", r)
			res = Fail(call.Name, "%s failed unexpectedly: %v", call.Name, r)
		}
	}()

	if call.Malformed() {
		logger.Warn("malformed tool block", "error", call.Err)
		return Fail(call.Name, "malformed %s block: %s", call.Name, call.Err)
	}

	tool := e.table.Get(call.Name)
	if tool == nil {
		logger.Warn("unknown tool")
		return Fail(call.Name, "unknown tool: %s", call.Name)
	}
	if err := ctx.Err(); err != nil {
		return Fail(call.Name, "%s not run: %v", call.Name, err)
	}

	res = tool.Handler(ctx, call, e.env)
	res.Tool = call.Name
	res.Output = TruncateToolOutput(res.Output, call.Name, e.charLimits, e.lineLimits)

	logger.Info("tool executed",
		"success", res.Success,
		"duration", time.Since(start),
		"output_bytes", len(res.Output),
	)
	return res
}

