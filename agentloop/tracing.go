package agentloop

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/martinemde/taskloop/agentloop"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func (c *Controller) startTaskSpan(ctx context.Context, task *Task) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.agent", task.AgentID),
		attribute.String("llm.model", c.config.Generation.Model),
		attribute.Int("loop.max_turns", c.config.MaxTurns),
	)
	return ctx, span
}

func endTaskSpan(span trace.Span, task *Task) {
	span.SetAttributes(
		attribute.String("task.status", string(task.Status)),
		attribute.Int("task.rounds", task.Rounds),
		attribute.Int("task.tokens", task.TokensUsed),
		attribute.Float64("task.cost_usd", task.CostUSD),
	)
	if task.Status != StatusCompleted && task.Error != "" {
		span.RecordError(errors.New(task.Error))
		span.SetStatus(codes.Error, task.Error)
	}
	span.End()
}

func (c *Controller) startRoundSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "task.round")
	span.SetAttributes(attribute.Int("round", round))
	return ctx, span
}

func (c *Controller) startToolSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "tool."+name)
	span.SetAttributes(attribute.String("tool.name", name))
	return ctx, span
}
