package loom

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultRetryDelays is the backoff schedule applied to transient provider
// failures: one retry after 100ms, a second after 500ms.
var DefaultRetryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

// retryProvider wraps a Provider and automatically retries transient failures
// (HTTP 429 and 5xx) on a fixed delay schedule.
type retryProvider struct {
	inner  Provider
	delays []time.Duration
	logger *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryDelays sets the delay schedule between attempts. The number of
// attempts is len(delays)+1.
func RetryDelays(delays ...time.Duration) RetryOption {
	return func(r *retryProvider) { r.delays = delays }
}

// RetryLogger sets the structured logger for retry events. When set, retries
// log at WARN level and final failures after exhausting attempts log at ERROR.
// If not set, a no-op logger is used (no output).
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors.
// When the error includes a Retry-After duration (parsed from the HTTP
// header), the retry delay is at least that long. Compose with any Provider:
//
//	chat = loom.WithRetry(openaicompat.New(baseURL, key, model))
//	chat = loom.WithRetry(openaicompat.New(baseURL, key, model), loom.RetryDelays(time.Second))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:  p,
		delays: DefaultRetryDelays,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Chat implements Provider with retry.
func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return retryCall(ctx, r.delays, r.inner.Name(), r.logger, func() (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// isTransient reports whether err is a retryable HTTP error (429 or 5xx).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status >= 500)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay returns the scheduled delay before retry i, using the server's
// Retry-After value (if present) as a minimum.
func retryDelay(delays []time.Duration, i int, err error) time.Duration {
	d := delays[i]
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > d {
		return e.RetryAfter
	}
	return d
}

// retryCall calls fn up to len(delays)+1 times, sleeping between transient failures.
func retryCall[T any](ctx context.Context, delays []time.Duration, name string, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	attempts := len(delays) + 1
	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		logger.Warn("retrying transient error",
			"provider", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", attempts)
		if i < attempts-1 {
			timer := time.NewTimer(retryDelay(delays, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	logger.Error("all retry attempts exhausted",
		"provider", name,
		"attempts", attempts,
		"error", last)
	return zero, last
}

// retryEmbeddingProvider wraps an EmbeddingProvider with the same retry
// behavior as retryProvider.
type retryEmbeddingProvider struct {
	inner  EmbeddingProvider
	delays []time.Duration
	logger *slog.Logger
}

// WithEmbeddingRetry wraps p with automatic retry on transient HTTP errors.
// Accepts the same RetryOption functions as WithRetry.
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	cfg := &retryProvider{delays: DefaultRetryDelays}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = nopLogger
	}
	return &retryEmbeddingProvider{
		inner:  p,
		delays: cfg.delays,
		logger: logger,
	}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.delays, r.inner.Name(), r.logger, func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// compile-time checks
var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
