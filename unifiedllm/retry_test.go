package unifiedllm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for n, w := range want {
		if got := p.Delay(n); got != w {
			t.Errorf("delay(%d): expected %s, got %s", n, w, got)
		}
	}
}

func TestRetryPolicyJitterStaysInRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < time.Second || d >= 3*time.Second {
			t.Fatalf("jittered delay %s outside [1s, 3s)", d)
		}
	}
}

func TestRetryRecoversFromServerErrors(t *testing.T) {
	calls := 0
	var retries []int
	p := fastPolicy(3)
	p.OnRetry = func(_ error, attempt int, _ time.Duration) { retries = append(retries, attempt) }

	got, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", StatusError("openai", http.StatusServiceUnavailable, "overloaded")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected retry numbering %v", retries)
	}
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, StatusError("anthropic", http.StatusUnauthorized, "bad key")
	})
	if KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		return 0, &Error{Kind: KindNetwork, Message: "reset"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected initial call plus 2 retries, got %d", calls)
	}
}

func TestRetryHonoursRetryAfterCeiling(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		e := StatusError("groq", http.StatusTooManyRequests, "slow down")
		e.RetryAfter = time.Hour
		return 0, e
	})
	if KindOf(err) != KindRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a Retry-After beyond MaxDelay should stop retrying, got %d calls", calls)
	}
}

func TestRetryAbortsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	p.OnRetry = func(error, int, time.Duration) { cancel() }

	_, err := Retry(ctx, p, func(context.Context) (int, error) {
		return 0, &Error{Kind: KindServer, Message: "boom"}
	})
	if KindOf(err) != KindAborted {
		t.Fatalf("expected aborted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected abort to wrap context.Canceled")
	}
}

func TestRetryStreamMiddlewareReopens(t *testing.T) {
	opens := 0
	flaky := &funcAdapter{stream: func(context.Context, Request) (<-chan StreamEvent, error) {
		opens++
		if opens == 1 {
			return nil, StatusError("flaky", http.StatusBadGateway, "upstream")
		}
		ch := make(chan StreamEvent, 2)
		ch <- StreamEvent{Type: TextDelta, Delta: "second try"}
		ch <- StreamEvent{Type: StreamFinish}
		close(ch)
		return ch, nil
	}}
	client := NewClient(WithProvider("flaky", flaky), WithStreamMiddleware(RetryStreamMiddleware(fastPolicy(2))))

	events, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := Collect(context.Background(), events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "second try" || opens != 2 {
		t.Errorf("expected reopen, got %q after %d opens", resp.Text, opens)
	}
}

func TestRetryMiddlewareWrapsComplete(t *testing.T) {
	stub := &stubAdapter{name: "stub", err: StatusError("stub", http.StatusNotFound, "no such model")}
	client := NewClient(WithProvider("stub", stub), WithMiddleware(RetryMiddleware(fastPolicy(3))))
	_, err := client.Complete(context.Background(), Request{})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

type funcAdapter struct {
	stream func(context.Context, Request) (<-chan StreamEvent, error)
}

func (f *funcAdapter) Name() string { return "func" }

func (f *funcAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	ch, err := f.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, ch)
}

func (f *funcAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	return f.stream(ctx, req)
}
