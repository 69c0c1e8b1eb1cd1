package unifiedllm

import (
	"context"
	"sort"
	"sync"
)

// CompleteFunc and StreamFunc are the two request shapes a middleware can
// wrap.
type (
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
	StreamFunc   func(ctx context.Context, req Request) (<-chan StreamEvent, error)
)

// Middleware wraps Complete. It calls next to continue the chain.
type Middleware func(ctx context.Context, req Request, next CompleteFunc) (*Response, error)

// StreamMiddleware wraps Stream.
type StreamMiddleware func(ctx context.Context, req Request, next StreamFunc) (<-chan StreamEvent, error)

// Client routes requests to named provider adapters. Middleware registered
// first runs outermost.
type Client struct {
	mu        sync.RWMutex
	adapters  map[string]ProviderAdapter
	fallback  string
	complete  []Middleware
	streaming []StreamMiddleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.adapters[name] = adapter }
}

// WithDefaultProvider selects the adapter used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.fallback = name }
}

// WithMiddleware appends Complete middleware.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.complete = append(c.complete, mw...) }
}

// WithStreamMiddleware appends Stream middleware.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) { c.streaming = append(c.streaming, mw...) }
}

// NewClient creates a Client. With a single adapter and no explicit default,
// that adapter becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: map[string]ProviderAdapter{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.fallback = name
		}
	}
	return c
}

// adapter picks the adapter for req: the named provider, then the default,
// then the catalog's provider for req.Model.
func (c *Client) adapter(req Request) (string, ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.fallback
	}
	if name == "" {
		if info, ok := LookupModel(req.Model); ok {
			name = info.Provider
		}
	}
	if name == "" {
		return "", nil, configError("no provider for model %q and no default provider", req.Model)
	}
	a, ok := c.adapters[name]
	if !ok {
		return "", nil, configError("provider %q is not registered", name)
	}
	return name, a, nil
}

// Complete sends a blocking request.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	name, a, err := c.adapter(req)
	if err != nil {
		return nil, err
	}
	req.Provider = name

	call := CompleteFunc(a.Complete)
	for i := len(c.complete) - 1; i >= 0; i-- {
		mw, next := c.complete[i], call
		call = func(ctx context.Context, r Request) (*Response, error) { return mw(ctx, r, next) }
	}
	return call(ctx, req)
}

// Stream opens a streaming request.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	name, a, err := c.adapter(req)
	if err != nil {
		return nil, err
	}
	req.Provider = name

	call := StreamFunc(a.Stream)
	for i := len(c.streaming) - 1; i >= 0; i-- {
		mw, next := c.streaming[i], call
		call = func(ctx context.Context, r Request) (<-chan StreamEvent, error) { return mw(ctx, r, next) }
	}
	return call(ctx, req)
}

// Close closes every adapter that holds resources and returns the first
// error.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var first error
	for _, a := range c.adapters {
		if cl, ok := a.(interface{ Close() error }); ok {
			if err := cl.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
