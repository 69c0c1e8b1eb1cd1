package unifiedllm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy is exponential backoff for retryable errors.
type RetryPolicy struct {
	MaxRetries int // attempts after the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the wait before retry n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < n; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			break
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns a non-retryable error or the
// policy is exhausted. A server-requested RetryAfter longer than MaxDelay
// ends retrying.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	for n := 0; ; n++ {
		v, err := fn(ctx)
		if err == nil || n >= p.MaxRetries || !IsRetryable(err) {
			return v, err
		}

		delay := p.Delay(n)
		var e *Error
		if errors.As(err, &e) && e.RetryAfter > 0 {
			if p.MaxDelay > 0 && e.RetryAfter > p.MaxDelay {
				return v, err
			}
			delay = e.RetryAfter
		}
		if p.OnRetry != nil {
			p.OnRetry(err, n+1, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			var zero T
			return zero, abortError("cancelled while waiting to retry", ctx.Err())
		case <-t.C:
		}
	}
}

// RetryMiddleware retries Complete calls.
func RetryMiddleware(p RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
		return Retry(ctx, p, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}

// RetryStreamMiddleware retries opening a stream. Errors delivered on an
// open stream are not retried since content may already have been shown.
func RetryStreamMiddleware(p RetryPolicy) StreamMiddleware {
	return func(ctx context.Context, req Request, next StreamFunc) (<-chan StreamEvent, error) {
		return Retry(ctx, p, func(ctx context.Context) (<-chan StreamEvent, error) {
			return next(ctx, req)
		})
	}
}
