package loom

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryTransientThenSuccess(t *testing.T) {
	inner := &flakyProvider{failures: 2, status: 503}
	p := WithRetry(inner, RetryDelays(time.Millisecond, time.Millisecond))

	resp, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	inner := &flakyProvider{failures: 10, status: 429}
	p := WithRetry(inner, RetryDelays(time.Millisecond, time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 429 {
		t.Fatalf("Chat() error = %v, want ErrHTTP 429", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3 (one per delay plus the first)", inner.calls)
	}
}

func TestWithRetryNonTransientFailsFast(t *testing.T) {
	inner := &flakyProvider{failures: 10, status: 401}
	p := WithRetry(inner, RetryDelays(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("Chat() error = nil, want ErrHTTP 401")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx auth errors)", inner.calls)
	}
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	inner := &flakyProvider{failures: 1, status: 429, retryAfter: 30 * time.Millisecond}
	p := WithRetry(inner, RetryDelays(time.Millisecond))

	start := time.Now()
	if _, err := p.Chat(context.Background(), ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least the Retry-After floor", elapsed)
	}
}

func TestWithRetryContextCancelDuringBackoff(t *testing.T) {
	inner := &flakyProvider{failures: 10, status: 503}
	p := WithRetry(inner, RetryDelays(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Chat(ctx, ChatRequest{Model: "m"})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Chat() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Chat() did not return after cancel")
	}
}

// flakyProvider fails its first n calls with an HTTP error, then succeeds.
type flakyProvider struct {
	failures   int
	status     int
	retryAfter time.Duration
	calls      int
}

func (f *flakyProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return ChatResponse{}, &ErrHTTP{Status: f.status, RetryAfter: f.retryAfter}
	}
	return ChatResponse{Content: "ok"}, nil
}

func (f *flakyProvider) Name() string { return "flaky" }
