package unifiedllm

import "context"

// ProviderAdapter is one model backend.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream returns a channel that the adapter closes when the reply ends.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}
