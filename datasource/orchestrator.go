package datasource

import (
	"context"
	"sync"
	"time"
)

// defaultAttemptTimeout bounds a single provider attempt
const defaultAttemptTimeout = 10 * time.Second

// Orchestrator resolves logical data requests for one payload type by
// consulting the cache, then one or more providers according to the
// composition mode (sequential fallback, parallel merge, batched fan-out),
// guarded by per-provider circuit breakers, with concurrent identical
// requests collapsed and structured telemetry emitted throughout.
//
// Create one orchestrator per resource kind:
//
//	quotes := datasource.New[Quote](store, breakers)
//	res := quotes.FetchWithFallback(ctx, "AAPL",
//	    []datasource.Provider[Quote]{primary, secondary},
//	    datasource.DefaultFetchOptions("quotes"))
//
// All methods are safe for concurrent use.
type Orchestrator[T any] struct {
	store          CacheStore
	cache          *typedCache[T]
	breakers       *BreakerRegistry
	dedup          *Deduplicator[T]
	telemetry      *Telemetry
	ttls           *TTLTable
	logger         Logger
	defaultTimeout time.Duration
}

// Option customizes an Orchestrator
type Option[T any] func(*Orchestrator[T])

// WithLogger sets the orchestrator logger (default: NoopLogger)
func WithLogger[T any](logger Logger) Option[T] {
	return func(o *Orchestrator[T]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTelemetry injects a shared telemetry sink, e.g. one sink across
// several orchestrators
func WithTelemetry[T any](t *Telemetry) Option[T] {
	return func(o *Orchestrator[T]) {
		if t != nil {
			o.telemetry = t
		}
	}
}

// WithTTLTable sets the (resource kind, tier) TTL table
func WithTTLTable[T any](table *TTLTable) Option[T] {
	return func(o *Orchestrator[T]) {
		if table != nil {
			o.ttls = table
		}
	}
}

// WithDefaultTimeout sets the per-attempt timeout used when fetch options
// carry none (default: 10s)
func WithDefaultTimeout[T any](timeout time.Duration) Option[T] {
	return func(o *Orchestrator[T]) {
		if timeout > 0 {
			o.defaultTimeout = timeout
		}
	}
}

// New creates an orchestrator over the given cache store and breaker
// registry. A nil registry gets a private one that accepts any provider
// with default breaker settings; pass a shared registry to coordinate
// breaker state across orchestrators.
func New[T any](store CacheStore, breakers *BreakerRegistry, opts ...Option[T]) *Orchestrator[T] {
	o := &Orchestrator[T]{
		store:          store,
		breakers:       breakers,
		telemetry:      NewTelemetry(),
		ttls:           DefaultTTLTable(),
		logger:         &NoopLogger{},
		defaultTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.breakers == nil {
		o.breakers = NewBreakerRegistry(nil,
			WithFallbackBreakerConfig(DefaultBreakerConfig()),
			WithRegistryLogger(o.logger))
	}
	o.cache = &typedCache[T]{store: store, logger: o.logger}
	o.dedup = NewDeduplicator[T](o.logger)

	return o
}

// FetchOptions control caching, deduplication and timeouts for a fetch.
// Use DefaultFetchOptions as the starting point; the zero value disables
// stale fallback and deduplication.
type FetchOptions struct {
	// CacheKeyPrefix namespaces cache and dedup keys; it doubles as the
	// resource kind for TTL selection
	CacheKeyPrefix string

	// TTL overrides the TTL table when positive
	TTL time.Duration

	// Tier selects the TTL row (default: free)
	Tier Tier

	// SkipCache bypasses the fresh-cache read
	SkipCache bool

	// SkipCacheWrite suppresses the write-through on provider success.
	// Used internally by the merge path, which caches only the merged value.
	SkipCacheWrite bool

	// AllowStale permits serving an expired cache entry when every
	// provider failed
	AllowStale bool

	// Deduplicate collapses concurrent identical requests
	Deduplicate bool

	// Timeout bounds each provider attempt; 0 uses the orchestrator default
	Timeout time.Duration
}

// DefaultFetchOptions returns the standard options: cache on, stale
// fallback on, deduplication on.
func DefaultFetchOptions(cacheKeyPrefix string) *FetchOptions {
	return &FetchOptions{
		CacheKeyPrefix: cacheKeyPrefix,
		AllowStale:     true,
		Deduplicate:    true,
	}
}

// normalizeOptions fills nil and zero fields
func (o *Orchestrator[T]) normalizeOptions(opts *FetchOptions) *FetchOptions {
	if opts == nil {
		opts = DefaultFetchOptions("")
	} else {
		copied := *opts
		opts = &copied
	}
	if opts.Timeout <= 0 {
		opts.Timeout = o.defaultTimeout
	}
	if opts.Tier == "" {
		opts.Tier = TierFree
	}
	return opts
}

// resolveTTL picks the write-through TTL for the given options
func (o *Orchestrator[T]) resolveTTL(opts *FetchOptions) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return o.ttls.TTL(opts.CacheKeyPrefix, opts.Tier)
}

// cacheKey builds the versioned cache key for a logical key
func cacheKey(prefix, key string) string {
	return prefix + ":" + key + ":v1"
}

// dedupKey builds the in-flight dedup key for a logical key
func dedupKey(prefix, key string) string {
	return prefix + ":" + key
}

// Stats bundles the observability surface of one orchestrator.
type Stats struct {
	CircuitBreakers map[string]BreakerStats `json:"circuit_breakers"`
	Deduplication   DedupStats              `json:"deduplication"`
	Telemetry       TelemetryStats          `json:"telemetry"`
}

// GetStats returns a snapshot of the breaker registry, the dedup table and
// the telemetry aggregates
func (o *Orchestrator[T]) GetStats() Stats {
	return Stats{
		CircuitBreakers: o.breakers.AllStats(),
		Deduplication:   o.dedup.Stats(),
		Telemetry:       o.telemetry.Snapshot(),
	}
}

// Telemetry returns the telemetry sink
func (o *Orchestrator[T]) Telemetry() *Telemetry {
	return o.telemetry
}

// Breakers returns the circuit breaker registry
func (o *Orchestrator[T]) Breakers() *BreakerRegistry {
	return o.breakers
}

// ResetBreaker forces the named provider's breaker back to closed
func (o *Orchestrator[T]) ResetBreaker(name string) error {
	cb, err := o.breakers.Get(name)
	if err != nil {
		return err
	}
	cb.Reset()
	return nil
}

// ResetAllBreakers forces every known breaker back to closed
func (o *Orchestrator[T]) ResetAllBreakers() {
	o.breakers.ResetAll()
}

// ClearCache removes every entry from the underlying store
func (o *Orchestrator[T]) ClearCache(ctx context.Context) error {
	return o.store.Clear(ctx)
}

// Close stops the dedup scavenger. The orchestrator must not be used
// after Close.
func (o *Orchestrator[T]) Close() {
	o.dedup.StopCleanup()
}

// HealthCheck probes every given provider that implements HealthChecker,
// in parallel, and returns provider name to healthy. Providers without a
// health check report true.
func (o *Orchestrator[T]) HealthCheck(ctx context.Context, providers []Provider[T]) map[string]bool {
	results := make(map[string]bool, len(providers))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range providers {
		wg.Add(1)
		go func(p Provider[T]) {
			defer wg.Done()

			healthy := true
			if hc, ok := p.(HealthChecker); ok {
				healthy = hc.HealthCheck(ctx)
			}

			mu.Lock()
			results[p.Name()] = healthy
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	return results
}
