package datasource

import "context"

// Provider is the contract every external data source adapter satisfies.
// A provider is identified by a stable name; the name is the key under which
// its circuit breaker and telemetry counters are registered.
type Provider[T any] interface {
	// Name returns the stable provider name
	Name() string

	// Fetch retrieves the payload for a single key. It may fail; errors are
	// classified by the orchestrator and recorded against the provider.
	Fetch(ctx context.Context, key string) (T, error)
}

// BatchProvider is a provider that can resolve many keys in one round-trip.
type BatchProvider[T any] interface {
	Provider[T]

	// BatchFetch resolves the given keys, returning a mapping from key to
	// payload. Keys absent from the result are treated as not found.
	BatchFetch(ctx context.Context, keys []string) (map[string]T, error)

	// MaxBatchSize is the largest key count a single BatchFetch accepts.
	// Non-positive means unbounded.
	MaxBatchSize() int
}

// HealthChecker is optionally implemented by providers that can report
// their own availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// ProviderFunc adapts a plain fetch function into a Provider.
type ProviderFunc[T any] struct {
	name string
	fn   func(ctx context.Context, key string) (T, error)
}

// NewProviderFunc wraps fn as a named Provider
func NewProviderFunc[T any](name string, fn func(ctx context.Context, key string) (T, error)) *ProviderFunc[T] {
	return &ProviderFunc[T]{name: name, fn: fn}
}

// Name returns the provider name
func (p *ProviderFunc[T]) Name() string { return p.name }

// Fetch invokes the wrapped function
func (p *ProviderFunc[T]) Fetch(ctx context.Context, key string) (T, error) {
	return p.fn(ctx, key)
}
