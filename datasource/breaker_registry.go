package datasource

import (
	"context"
	"fmt"
	"sync"
)

// BreakerRegistry holds one circuit breaker per provider name, created
// lazily on first use from a static configuration table. Unknown provider
// names are a configuration error unless a fallback config is installed.
type BreakerRegistry struct {
	mu       sync.Mutex
	configs  map[string]BreakerConfig
	fallback *BreakerConfig
	breakers map[string]*CircuitBreaker
	logger   Logger
}

// RegistryOption customizes a BreakerRegistry
type RegistryOption func(*BreakerRegistry)

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *BreakerRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFallbackBreakerConfig installs a config used for provider names
// missing from the table, instead of failing.
func WithFallbackBreakerConfig(cfg BreakerConfig) RegistryOption {
	return func(r *BreakerRegistry) {
		r.fallback = &cfg
	}
}

// NewBreakerRegistry creates a registry over a static provider-name to
// breaker-config table. The table is read once; hot-reload is not supported.
func NewBreakerRegistry(configs map[string]BreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		configs:  make(map[string]BreakerConfig, len(configs)),
		breakers: make(map[string]*CircuitBreaker),
		logger:   &NoopLogger{},
	}
	for name, cfg := range configs {
		r.configs[name] = cfg
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the named provider, creating it on first use.
// Returns an error when the provider has no configuration and no fallback
// config is installed.
func (r *BreakerRegistry) Get(name string) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		if r.fallback == nil {
			return nil, fmt.Errorf("no circuit breaker configuration for provider %q", name)
		}
		cfg = *r.fallback
	}

	cb := NewCircuitBreaker(name, cfg)
	r.breakers[name] = cb
	r.logger.Debug(context.Background(), "Circuit breaker created",
		F("provider", name),
		F("failure_threshold", cfg.FailureThreshold),
		F("reset_timeout", cfg.ResetTimeout))

	return cb, nil
}

// ForEach calls fn for every breaker created so far
func (r *BreakerRegistry) ForEach(fn func(name string, cb *CircuitBreaker)) {
	r.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		breakers[name] = cb
	}
	r.mu.Unlock()

	for name, cb := range breakers {
		fn(name, cb)
	}
}

// AllStats returns a snapshot of every breaker created so far
func (r *BreakerRegistry) AllStats() map[string]BreakerStats {
	stats := make(map[string]BreakerStats)
	r.ForEach(func(name string, cb *CircuitBreaker) {
		stats[name] = cb.Stats()
	})
	return stats
}

// ResetAll forces every breaker back to closed
func (r *BreakerRegistry) ResetAll() {
	r.ForEach(func(name string, cb *CircuitBreaker) {
		cb.Reset()
	})
}

// ClearAll discards every breaker; subsequent Get calls recreate them
func (r *BreakerRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
