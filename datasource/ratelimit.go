package datasource

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a provider with a local token-bucket gate.
// A request arriving with no token available is refused with a RATE_LIMIT
// error before the inner provider is called, so sustained throttling feeds
// the provider's circuit breaker the same way remote 429s do.
type RateLimitedProvider[T any] struct {
	inner   Provider[T]
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner with a token bucket refilling at rps
// tokens per second with the given burst capacity.
func NewRateLimitedProvider[T any](inner Provider[T], rps float64, burst int) *RateLimitedProvider[T] {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider[T]{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the inner provider name
func (p *RateLimitedProvider[T]) Name() string { return p.inner.Name() }

// Fetch forwards to the inner provider when a token is available
func (p *RateLimitedProvider[T]) Fetch(ctx context.Context, key string) (T, error) {
	if !p.limiter.Allow() {
		var zero T
		return zero, NewProviderError(CodeRateLimit, p.inner.Name(), "local rate limit exceeded", nil)
	}
	return p.inner.Fetch(ctx, key)
}

// HealthCheck forwards to the inner provider when it reports health
func (p *RateLimitedProvider[T]) HealthCheck(ctx context.Context) bool {
	if hc, ok := p.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return true
}

// RateLimitedBatchProvider is the batch-capable variant. One batch call
// consumes one token regardless of its key count, matching the breaker's
// one-failure-per-chunk accounting.
type RateLimitedBatchProvider[T any] struct {
	inner   BatchProvider[T]
	limiter *rate.Limiter
}

// NewRateLimitedBatchProvider wraps a batch provider with a token bucket
func NewRateLimitedBatchProvider[T any](inner BatchProvider[T], rps float64, burst int) *RateLimitedBatchProvider[T] {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedBatchProvider[T]{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the inner provider name
func (p *RateLimitedBatchProvider[T]) Name() string { return p.inner.Name() }

// Fetch forwards a single-key fetch when a token is available
func (p *RateLimitedBatchProvider[T]) Fetch(ctx context.Context, key string) (T, error) {
	if !p.limiter.Allow() {
		var zero T
		return zero, NewProviderError(CodeRateLimit, p.inner.Name(), "local rate limit exceeded", nil)
	}
	return p.inner.Fetch(ctx, key)
}

// BatchFetch forwards a batch call when a token is available
func (p *RateLimitedBatchProvider[T]) BatchFetch(ctx context.Context, keys []string) (map[string]T, error) {
	if !p.limiter.Allow() {
		return nil, NewProviderError(CodeRateLimit, p.inner.Name(), "local rate limit exceeded", nil)
	}
	return p.inner.BatchFetch(ctx, keys)
}

// MaxBatchSize returns the inner provider's batch size limit
func (p *RateLimitedBatchProvider[T]) MaxBatchSize() int { return p.inner.MaxBatchSize() }
