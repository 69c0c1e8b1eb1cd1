package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/store"
	"github.com/martinemde/taskloop/subagent"
	"github.com/martinemde/taskloop/tools"
)

// Run executes the run command.
func (c *RunCmd) Run(g *Globals, ctx context.Context) error {
	description := strings.TrimSpace(strings.Join(c.Task, " "))
	if description == "" {
		return errors.New("task description is empty")
	}

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	emitter, wait := startPrinter(os.Stdout, os.Stderr, c.Quiet || c.JSON)
	orch, err := a.orchestrator(emitter)
	if err != nil {
		emitter.Close()
		wait()
		return err
	}

	var opts []subagent.RunOption
	if c.MaxTurns > 0 {
		opts = append(opts, subagent.WithMaxTurns(c.MaxTurns))
	}
	run := orch.Run(ctx, c.Agent, description, opts...)
	emitter.Close()
	wait()

	if c.JSON {
		return writeJSON(os.Stdout, run.Task)
	}
	printSummary(os.Stderr, run.Task)
	return taskError(run.Task)
}

// Run executes the pipeline command.
func (c *PipelineCmd) Run(g *Globals, ctx context.Context) error {
	p, err := subagent.LoadPipeline(c.File)
	if err != nil {
		return err
	}
	steps := make([]subagent.PipelineStep, len(p.Steps))
	for i, step := range p.Steps {
		if step.MaxTurns == 0 {
			step.MaxTurns = p.MaxTurns
		}
		steps[i] = step
	}

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	emitter, wait := startPrinter(os.Stdout, os.Stderr, c.Quiet || c.JSON)
	orch, err := a.orchestrator(emitter)
	if err != nil {
		emitter.Close()
		wait()
		return err
	}
	runs := orch.RunPipeline(ctx, steps)
	emitter.Close()
	wait()

	tasks := make([]*agentloop.Task, len(runs))
	for i, r := range runs {
		tasks[i] = r.Task
	}
	if c.JSON {
		return writeJSON(os.Stdout, tasks)
	}
	for i, task := range tasks {
		fmt.Fprintf(os.Stderr, "\n[%d/%d] ", i+1, len(tasks))
		printSummary(os.Stderr, task)
	}
	for _, task := range tasks {
		if err := taskError(task); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the history command.
func (c *HistoryCmd) Run(g *Globals, ctx context.Context) error {
	s, closeFn, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeFn()

	if c.ID != "" {
		task, err := s.Task(ctx, c.ID)
		if err != nil {
			return err
		}
		changes, err := s.ChangesForTask(ctx, c.ID)
		if err != nil {
			return err
		}
		printTaskDetail(os.Stdout, task, changes)
		return nil
	}

	tasks, err := s.Tasks(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks recorded.")
		return nil
	}
	printHistory(os.Stdout, tasks)
	return nil
}

// Run executes the undo command.
func (c *UndoCmd) Run(g *Globals, ctx context.Context) error {
	s, closeFn, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeFn()

	if c.List {
		changes, err := s.Changes(ctx)
		if err != nil {
			return err
		}
		printChanges(os.Stdout, changes)
		return nil
	}

	var change tools.Change
	if c.ID != "" {
		change, err = tools.Undo(ctx, s, c.ID)
	} else {
		change, err = tools.UndoLast(ctx, s)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Reverted %s of %s (%s)\n", change.Kind, change.Path, change.ID)
	return nil
}

// Run executes the tools command.
func (c *ToolsCmd) Run(g *Globals, ctx context.Context) error {
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	if c.Usage {
		fmt.Println(a.table.UsageGuide())
		return nil
	}
	for _, name := range a.table.Names() {
		tool := a.table.Get(name)
		mode := "rw"
		if tool.ReadOnly {
			mode = "ro"
		}
		fmt.Printf("%-24s %s\n", name, mode)
	}
	return nil
}

// Run executes the personas command.
func (c *PersonasCmd) Run(g *Globals, ctx context.Context) error {
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()
	printPersonas(os.Stdout, a.personas)
	return nil
}

// Run executes the version command.
func (c *VersionCmd) Run() error {
	fmt.Printf("taskloop %s (%s)\n", version, commit)
	return nil
}

// openStore opens task storage without building the rest of the app.
func openStore(g *Globals) (*store.Store, func(), error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Storage.Enabled {
		return nil, nil, errors.New("storage is disabled; enable [storage] in the config to keep history")
	}
	s, err := store.Open(cfg.StoragePath())
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// startPrinter consumes events until the emitter is closed. Model text goes
// to out and tool activity to errOut. The returned func waits for the
// printer to drain.
func startPrinter(out, errOut io.Writer, quiet bool) (*agentloop.EventEmitter, func()) {
	emitter := agentloop.NewEventEmitter(1024)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range emitter.Events() {
			if quiet {
				continue
			}
			printEvent(out, errOut, ev)
		}
	}()
	return emitter, wg.Wait
}

func printEvent(out, errOut io.Writer, ev agentloop.Event) {
	switch ev.Kind {
	case agentloop.EventTaskStart:
		fmt.Fprintf(errOut, "● %s\n", ev.AgentID)
	case agentloop.EventContentDelta:
		if text, ok := ev.Data["text"].(string); ok {
			fmt.Fprint(out, text)
		}
	case agentloop.EventToolCallStart:
		fmt.Fprintf(errOut, "\n  → %v\n", ev.Data["tool"])
	case agentloop.EventToolCallEnd:
		if ok, _ := ev.Data["success"].(bool); !ok {
			fmt.Fprintf(errOut, "  ✗ %v failed\n", ev.Data["tool"])
		}
	case agentloop.EventWarning:
		fmt.Fprintf(errOut, "  ! %v\n", ev.Data["message"])
	case agentloop.EventStagnation:
		fmt.Fprintln(errOut, "\n  (no progress, stopping)")
	case agentloop.EventTurnLimit:
		fmt.Fprintf(errOut, "\n  (turn limit %v reached)\n", ev.Data["max_turns"])
	case agentloop.EventRoundEnd:
		fmt.Fprintln(out)
	}
}

// printSummary writes a one-task status block.
func printSummary(w io.Writer, task *agentloop.Task) {
	fmt.Fprintf(w, "%s %s: %s after %d round(s), %d tokens, $%.4f, %s\n",
		statusMark(task.Status), task.AgentID, task.Status, task.Rounds,
		task.TokensUsed, task.CostUSD, task.Duration.Round(time.Millisecond))
	if len(task.ToolsUsed) > 0 {
		fmt.Fprintf(w, "  tools: %s\n", strings.Join(task.ToolsUsed, ", "))
	}
	if task.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", task.Error)
	}
}

func statusMark(s agentloop.TaskStatus) string {
	switch s {
	case agentloop.StatusCompleted:
		return "✓"
	case agentloop.StatusCancelled:
		return "○"
	default:
		return "✗"
	}
}

// taskError turns a non-completed task into the command's exit error.
func taskError(task *agentloop.Task) error {
	if task.Status == agentloop.StatusCompleted {
		return nil
	}
	if task.Error != "" {
		return fmt.Errorf("%s %s: %s", task.AgentID, task.Status, task.Error)
	}
	return fmt.Errorf("%s %s", task.AgentID, task.Status)
}

func printHistory(w io.Writer, tasks []agentloop.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tROUNDS\tTOKENS\tSTARTED\tTASK")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			t.ID, t.AgentID, t.Status, t.Rounds, t.TokensUsed,
			t.StartTime.Local().Format("2006-01-02 15:04"), oneLine(t.Description, 60))
	}
	_ = tw.Flush()
}

func printTaskDetail(w io.Writer, task agentloop.Task, changes []tools.Change) {
	fmt.Fprintf(w, "Task:     %s\n", task.ID)
	fmt.Fprintf(w, "Agent:    %s\n", task.AgentID)
	fmt.Fprintf(w, "Status:   %s\n", task.Status)
	fmt.Fprintf(w, "Started:  %s (%s)\n", task.StartTime.Local().Format(time.RFC3339), task.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Rounds:   %d\n", task.Rounds)
	fmt.Fprintf(w, "Tokens:   %d ($%.4f)\n", task.TokensUsed, task.CostUSD)
	if len(task.ToolsUsed) > 0 {
		fmt.Fprintf(w, "Tools:    %s\n", strings.Join(task.ToolsUsed, ", "))
	}
	if task.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", task.Error)
	}
	fmt.Fprintf(w, "\n%s\n", task.Description)
	if task.Result != "" {
		fmt.Fprintf(w, "\n--- result ---\n%s\n", task.Result)
	}
	if len(changes) > 0 {
		fmt.Fprintln(w, "\n--- changes ---")
		printChanges(w, changes)
	}
}

func printChanges(w io.Writer, changes []tools.Change) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOOL\tKIND\tPATH\tUNDONE")
	for _, c := range changes {
		undone := ""
		if c.Undone {
			undone = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Tool, c.Kind, c.Path, undone)
	}
	_ = tw.Flush()
}

func printPersonas(w io.Writer, reg *subagent.PersonaRegistry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, id := range reg.IDs() {
		p, _ := reg.Lookup(id)
		fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Name)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit-3]) + "..."
	}
	return s
}
