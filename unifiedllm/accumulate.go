package unifiedllm

import (
	"context"
	"strings"
)

// Collect drains a stream into a Response. The first error event, if any,
// is returned instead.
func Collect(ctx context.Context, events <-chan StreamEvent) (*Response, error) {
	var (
		text      strings.Builder
		reasoning strings.Builder
		resp      = &Response{FinishReason: FinishStop}
		firstErr  error
	)
	for {
		select {
		case <-ctx.Done():
			go drain(events)
			return nil, abortError("collect cancelled", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				if firstErr != nil {
					return nil, firstErr
				}
				resp.Text = text.String()
				resp.Reasoning = reasoning.String()
				return resp, nil
			}
			switch ev.Type {
			case TextDelta:
				text.WriteString(ev.Delta)
			case ReasoningDelta:
				reasoning.WriteString(ev.ReasoningDelta)
			case ToolCallEnd:
				if ev.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case StreamFinish:
				if ev.FinishReason != "" {
					resp.FinishReason = ev.FinishReason
				}
				resp.Usage = ev.Usage
			case StreamError:
				if firstErr == nil {
					firstErr = ev.Error
				}
			}
		}
	}
}

func drain(events <-chan StreamEvent) {
	for range events {
	}
}
