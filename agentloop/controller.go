package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/martinemde/taskloop/tools"
)

// State is the controller's position in the round loop.
type State string

const (
	StateIdle              State = "idle"
	StateStreaming         State = "streaming"
	StateExtracting        State = "extracting"
	StateExecuting         State = "executing"
	StateAwaitingNextRound State = "awaiting_next_round"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

// DefaultMaxTurns bounds a standalone sub-agent run.
const DefaultMaxTurns = 5

// Extractor splits model text into tool calls and the text left for the user.
type Extractor func(text string) ([]toolblock.Call, string)

// ToolRunner executes one tool call. *tools.Executor implements it.
type ToolRunner interface {
	Execute(ctx context.Context, call toolblock.Call) tools.Result
	Known(name string) bool
}

// Config holds per-run settings.
type Config struct {
	MaxTurns   int              `json:"max_turns"`
	Generation GenerationConfig `json:"generation"`
}

// DefaultConfig returns a five-turn configuration.
func DefaultConfig() Config {
	return Config{MaxTurns: DefaultMaxTurns}
}

// Controller drives a single task through repeated stream, extract and
// execute rounds until it completes, is cancelled or fails. A Controller
// runs one task at a time.
type Controller struct {
	streamer Streamer
	runner   ToolRunner
	config   Config
	extract  Extractor
	usage    UsageTracker
	emitter  *EventEmitter
	logger   *slog.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithExtractor replaces toolblock.Parse.
func WithExtractor(e Extractor) Option {
	return func(c *Controller) {
		if e != nil {
			c.extract = e
		}
	}
}

// WithUsageTracker replaces the tiktoken-based tracker.
func WithUsageTracker(u UsageTracker) Option {
	return func(c *Controller) {
		if u != nil {
			c.usage = u
		}
	}
}

// WithEmitter publishes events to e.
func WithEmitter(e *EventEmitter) Option {
	return func(c *Controller) { c.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewController creates a Controller. A non-positive MaxTurns means
// DefaultMaxTurns.
func NewController(streamer Streamer, runner ToolRunner, cfg Config, opts ...Option) *Controller {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	c := &Controller{
		streamer: streamer,
		runner:   runner,
		config:   cfg,
		extract:  toolblock.Parse,
		usage:    NewTokenTracker(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   defaultTracer(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.config }

// taskRun is the mutable bookkeeping of one Run.
type taskRun struct {
	task        *Task
	conv        *Conversation
	logger      *slog.Logger
	lastVisible string
	stagnation  stagnationDetector
}

// Run drives task to a terminal status. conv must already hold the system
// prompt and task description. Run never panics or returns an error; every
// outcome is recorded on task.
func (c *Controller) Run(ctx context.Context, task *Task, conv *Conversation) {
	if task.Status.Terminal() {
		return
	}
	task.SetStatus(StatusRunning)
	task.StartTime = time.Now()

	r := &taskRun{
		task:   task,
		conv:   conv,
		logger: c.logger.With("task_id", task.ID, "agent", task.AgentID),
	}
	ctx = tools.WithTaskID(ctx, task.ID)
	ctx, span := c.startTaskSpan(ctx, task)
	c.emit(EventTaskStart, task, map[string]interface{}{"description": task.Description})
	r.logger.Info("task started", "max_turns", c.config.MaxTurns)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "panic", p)
			c.finish(r, StateFailed, StatusFailed, fmt.Sprintf("internal error: %v", p))
		}
		task.Duration = time.Since(task.StartTime)
		endTaskSpan(span, task)
		c.emit(EventTaskEnd, task, map[string]interface{}{
			"status":      string(task.Status),
			"rounds":      task.Rounds,
			"tokens_used": task.TokensUsed,
			"cost_usd":    task.CostUSD,
			"duration_ms": task.Duration.Milliseconds(),
		})
		r.logger.Info("task finished",
			"status", task.Status,
			"rounds", task.Rounds,
			"tokens", task.TokensUsed,
			"duration", task.Duration)
	}()

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			c.finish(r, StateCancelled, StatusCancelled, cancelMessage(err))
			return
		}
		if done := c.round(ctx, r, round); done {
			return
		}
	}
}

// round runs one stream, extract and execute cycle and reports whether the
// task reached a terminal status.
func (c *Controller) round(ctx context.Context, r *taskRun, round int) bool {
	ctx, span := c.startRoundSpan(ctx, round)
	defer span.End()
	logger := r.logger.With("round", round)

	c.setState(r.task, StateStreaming)
	prompt := r.conv.Messages()
	text, reported, native, opened, err := c.consume(ctx, r.task, prompt)
	if opened {
		c.account(r.task, prompt, text, reported)
	}
	if err != nil {
		if ctx.Err() != nil {
			c.finish(r, StateCancelled, StatusCancelled, cancelMessage(ctx.Err()))
		} else {
			logger.Warn("stream failed", "error", err)
			c.finish(r, StateCancelled, StatusCancelled, "stream failed: "+err.Error())
		}
		return true
	}
	r.task.Rounds = round

	c.setState(r.task, StateExtracting)
	calls, visible := c.extract(text)
	calls = append(calls, native...)
	if visible != "" {
		r.lastVisible = visible
	}
	if len(calls) == 0 {
		r.conv.Append(RoleAssistant, visible)
		c.finish(r, StateCompleted, StatusCompleted, "")
		return true
	}

	c.setState(r.task, StateExecuting)
	results := c.execute(ctx, r, calls)

	r.conv.Append(RoleAssistant, assistantTurn(visible, calls))
	r.conv.Append(RoleUser, tools.FormatFeedback(results))
	c.setState(r.task, StateAwaitingNextRound)
	c.emit(EventRoundEnd, r.task, map[string]interface{}{
		"round":    round,
		"calls":    len(calls),
		"executed": len(results),
	})
	logger.Debug("round finished", "calls", len(calls), "executed", len(results))

	if err := ctx.Err(); err != nil {
		c.finish(r, StateCancelled, StatusCancelled, cancelMessage(err))
		return true
	}
	if r.stagnation.observe(calls) {
		logger.Info("identical tool calls repeated, stopping")
		c.emit(EventStagnation, r.task, map[string]interface{}{
			"round":     round,
			"signature": toolblock.RoundSignature(calls),
		})
		c.finish(r, StateCompleted, StatusCompleted, "")
		return true
	}
	if round >= c.config.MaxTurns {
		logger.Info("turn limit reached")
		c.emit(EventTurnLimit, r.task, map[string]interface{}{"round": round, "max_turns": c.config.MaxTurns})
		c.finish(r, StateCompleted, StatusCompleted, "")
		return true
	}
	return false
}

// consume reads the stream to its end. Content units are concatenated in
// arrival order; provider-native tool calls are collected separately.
// opened is false when the stream never started.
func (c *Controller) consume(ctx context.Context, task *Task, prompt []Message) (string, *TokenUsage, []toolblock.Call, bool, error) {
	units, err := c.streamer.Stream(ctx, prompt, c.config.Generation)
	if err != nil {
		return "", nil, nil, false, err
	}

	var (
		text   strings.Builder
		usage  *TokenUsage
		native []toolblock.Call
	)
	for {
		select {
		case <-ctx.Done():
			return text.String(), usage, native, true, ctx.Err()
		case u, ok := <-units:
			if !ok {
				return text.String(), usage, native, true, nil
			}
			if u.Err != nil {
				return text.String(), usage, native, true, u.Err
			}
			switch u.Kind {
			case UnitContent:
				text.WriteString(u.Text)
				c.emit(EventContentDelta, task, map[string]interface{}{"text": u.Text})
			case UnitReasoning:
				c.emit(EventReasoningDelta, task, map[string]interface{}{"text": u.Text})
			case UnitToolCall:
				if u.Call != nil {
					native = append(native, *u.Call)
				}
			case UnitUsage:
				if u.Usage != nil {
					if usage == nil {
						usage = &TokenUsage{}
					}
					usage.InputTokens += u.Usage.InputTokens
					usage.OutputTokens += u.Usage.OutputTokens
				}
			}
		}
	}
}

// execute runs calls strictly in order, stopping early if ctx is cancelled.
func (c *Controller) execute(ctx context.Context, r *taskRun, calls []toolblock.Call) []tools.Result {
	results := make([]tools.Result, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			break
		}
		c.emit(EventToolCallStart, r.task, map[string]interface{}{"tool": call.Name, "index": i})

		toolCtx, span := c.startToolSpan(ctx, call.Name)
		res := c.runner.Execute(toolCtx, call)
		span.End()

		if c.runner.Known(call.Name) {
			r.task.UsedTool(call.Name)
		}
		results = append(results, res)
		c.emit(EventToolCallEnd, r.task, map[string]interface{}{
			"tool":    call.Name,
			"index":   i,
			"success": res.Success,
		})
	}
	return results
}

// account adds one round's usage to the task. Reported usage wins over
// local estimates.
func (c *Controller) account(task *Task, prompt []Message, completion string, reported *TokenUsage) {
	var usage TokenUsage
	if reported != nil {
		usage = *reported
	} else {
		usage = c.usage.Estimate(c.config.Generation.Model, prompt, completion)
	}
	task.TokensUsed += usage.Total()
	task.CostUSD += c.usage.Cost(c.config.Generation.Model, usage)
}

func (c *Controller) finish(r *taskRun, state State, status TaskStatus, errMsg string) {
	if r.task.Status.Terminal() {
		return
	}
	r.task.Result = r.lastVisible
	if errMsg != "" {
		r.task.Error = errMsg
	}
	r.task.SetStatus(status)
	c.setState(r.task, state)
	if status != StatusCompleted {
		c.emit(EventError, r.task, map[string]interface{}{"status": string(status), "error": errMsg})
	}
}

func (c *Controller) setState(task *Task, s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.emit(EventStateChange, task, map[string]interface{}{"from": string(prev), "to": string(s)})
	}
}

func (c *Controller) emit(kind EventKind, task *Task, data map[string]interface{}) {
	if c.emitter != nil {
		c.emitter.Emit(kind, task, data)
	}
}

func cancelMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "cancelled: deadline exceeded"
	}
	return "cancelled"
}

// assistantTurn is the assistant message recorded for a round. When the
// model wrote nothing but tool blocks, the calls are listed so the
// conversation keeps a non-empty assistant turn.
func assistantTurn(visible string, calls []toolblock.Call) string {
	if visible != "" {
		return visible
	}
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	return "(called " + strings.Join(names, ", ") + ")"
}
