// Package subagent runs isolated agent tasks and chains them into pipelines.
//
// Each Run builds a fresh conversation from a persona and a task description
// and drives it with its own agentloop.Controller. Pipelines run their steps
// one after another; every step after the first sees a digest of the earlier
// steps that completed.
package subagent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/tools"
)

// digestResultLimit caps how much of each earlier result a pipeline step sees.
const digestResultLimit = 500

// Recorder persists finished tasks.
type Recorder interface {
	RecordTask(ctx context.Context, task *agentloop.Task) error
}

// Run is the outcome of one sub-agent task.
type Run struct {
	Task         *agentloop.Task
	Conversation *agentloop.Conversation
	Final        string
}

// PipelineStep is one task in a pipeline.
type PipelineStep struct {
	AgentID     string `yaml:"agent" json:"agent"`
	Description string `yaml:"task" json:"task"`
	MaxTurns    int    `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
}

// Orchestrator builds conversations for personas and runs them to
// completion.
type Orchestrator struct {
	streamer  agentloop.Streamer
	executor  *tools.Executor
	personas  *PersonaRegistry
	config    agentloop.Config
	pipeTurns int
	project   string
	maxDepth  int
	recorder  Recorder
	emitter   *agentloop.EventEmitter
	logger    *slog.Logger
	tracer    trace.Tracer
	loopOpts  []agentloop.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the controller configuration used for standalone runs.
func WithConfig(cfg agentloop.Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithPipelineMaxTurns overrides the turn cap for pipeline steps that do not
// set their own.
func WithPipelineMaxTurns(n int) Option {
	return func(o *Orchestrator) { o.pipeTurns = n }
}

// WithProjectContext appends text (usually ProjectContext) to every system
// prompt.
func WithProjectContext(text string) Option {
	return func(o *Orchestrator) { o.project = text }
}

// WithMaxDepth sets how deep agent delegation may nest.
func WithMaxDepth(n int) Option {
	return func(o *Orchestrator) { o.maxDepth = n }
}

// WithRecorder persists every finished task.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEmitter shares one event emitter across every task.
func WithEmitter(e *agentloop.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithControllerOptions passes extra options to every Controller.
func WithControllerOptions(opts ...agentloop.Option) Option {
	return func(o *Orchestrator) { o.loopOpts = append(o.loopOpts, opts...) }
}

// NewOrchestrator creates an Orchestrator. A nil registry means
// DefaultPersonas.
func NewOrchestrator(streamer agentloop.Streamer, executor *tools.Executor, personas *PersonaRegistry, opts ...Option) *Orchestrator {
	if personas == nil {
		personas = DefaultPersonas()
	}
	o := &Orchestrator{
		streamer: streamer,
		executor: executor,
		personas: personas,
		config:   agentloop.DefaultConfig(),
		maxDepth: DefaultMaxDepth,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("github.com/martinemde/taskloop/subagent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Personas returns the registry.
func (o *Orchestrator) Personas() *PersonaRegistry { return o.personas }

// RunOption adjusts a single run.
type RunOption func(*runSettings)

type runSettings struct {
	maxTurns int
}

// WithMaxTurns overrides the turn cap for one run.
func WithMaxTurns(n int) RunOption {
	return func(s *runSettings) { s.maxTurns = n }
}

// Run executes one task for agentID and always returns a Run whose Task has
// a terminal status.
func (o *Orchestrator) Run(ctx context.Context, agentID, description string, opts ...RunOption) *Run {
	settings := runSettings{maxTurns: o.config.MaxTurns}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg := o.config
	cfg.MaxTurns = settings.maxTurns

	task := agentloop.NewTask(agentID, description)
	conv := agentloop.NewConversation(o.SystemPrompt(agentID), description)

	ctx, span := o.tracer.Start(ctx, "subagent.run")
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.Int("agent.depth", Depth(ctx)),
	)
	defer span.End()

	logger := o.logger.With("agent", agentID, "depth", Depth(ctx))
	if _, ok := o.personas.Lookup(agentID); !ok {
		logger.Warn("unknown agent id, using base context")
		if o.emitter != nil {
			o.emitter.Emit(agentloop.EventWarning, task, map[string]interface{}{
				"message": fmt.Sprintf("unknown agent %q, using base context", agentID),
			})
		}
	}

	loopOpts := append([]agentloop.Option{
		agentloop.WithLogger(o.logger),
		agentloop.WithEmitter(o.emitter),
		agentloop.WithTracer(o.tracer),
	}, o.loopOpts...)
	ctrl := agentloop.NewController(o.streamer, o.executor, cfg, loopOpts...)
	ctrl.Run(ctx, task, conv)

	span.SetAttributes(attribute.String("task.status", string(task.Status)))
	if o.recorder != nil {
		// Record even when ctx is already cancelled.
		if err := o.recorder.RecordTask(context.WithoutCancel(ctx), task); err != nil {
			logger.Warn("failed to record task", "task_id", task.ID, "error", err)
		}
	}

	return &Run{Task: task, Conversation: conv, Final: task.Result}
}

// RunPipeline runs steps strictly one after another and returns one Run per
// step. Steps after the first receive a digest of the earlier completed
// tasks. Once ctx is cancelled no further step starts; the remaining steps
// are returned as cancelled tasks that never ran.
func (o *Orchestrator) RunPipeline(ctx context.Context, steps []PipelineStep, opts ...RunOption) []*Run {
	ctx, span := o.tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.Int("pipeline.steps", len(steps)))
	defer span.End()

	runs := make([]*Run, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			runs = append(runs, notStarted(step, err))
			continue
		}

		description := step.Description
		if i > 0 {
			description += digest(runs)
		}

		stepOpts := opts
		if turns := o.stepTurns(step); turns > 0 {
			stepOpts = append([]RunOption{WithMaxTurns(turns)}, opts...)
		}
		o.logger.Info("pipeline step starting", "step", i+1, "of", len(steps), "agent", step.AgentID)
		run := o.Run(ctx, step.AgentID, description, stepOpts...)
		runs = append(runs, run)
	}
	return runs
}

func (o *Orchestrator) stepTurns(step PipelineStep) int {
	if step.MaxTurns > 0 {
		return step.MaxTurns
	}
	return o.pipeTurns
}

// SystemPrompt assembles the system message for agentID.
func (o *Orchestrator) SystemPrompt(agentID string) string {
	parts := []string{strings.TrimSpace(o.personas.Prompt(agentID))}
	if o.executor != nil {
		parts = append(parts, o.executor.Table().UsageGuide())
	}
	if o.project != "" {
		parts = append(parts, o.project)
	}
	return strings.Join(parts, "\n\n")
}

// digest summarizes the completed runs for the next pipeline step.
func digest(runs []*Run) string {
	var sb strings.Builder
	for _, r := range runs {
		if r.Task.Status != agentloop.StatusCompleted {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("\n\nResults from previous tasks:")
		}
		fmt.Fprintf(&sb, "\n\n[%s]\n%s", r.Task.AgentID, truncateResult(r.Task.Result, digestResultLimit))
	}
	return sb.String()
}

func truncateResult(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func notStarted(step PipelineStep, cause error) *Run {
	task := agentloop.NewTask(step.AgentID, step.Description)
	task.SetStatus(agentloop.StatusCancelled)
	task.Error = "not started: " + cause.Error()
	return &Run{Task: task, Conversation: agentloop.NewConversation("", step.Description)}
}
