package datasource

import "time"

// Source labels for result envelopes. A source is either one of these
// constants or the name of the provider that produced the data.
const (
	// SourceCache marks data served from the cache (fresh or stale)
	SourceCache = "cache"
	// SourceMerged marks data reconciled from multiple providers
	SourceMerged = "merged"
)

// Result is the envelope returned for every single-resource fetch.
// Callers can distinguish fresh, cached, stale-cached, and absent outcomes
// without error handling: Data is nil when every layer failed.
type Result[T any] struct {
	// Data is the fetched payload, nil when absent
	Data *T

	// Source is "cache", a provider name, or "merged"
	Source string

	// Cached is true when the data was served from the cache
	Cached bool

	// Timestamp is the wall-clock time the envelope was produced
	Timestamp time.Time

	// Age is the time since the data was written (0 for fresh provider data)
	Age time.Duration

	// Errors lists provider errors encountered, in attempt order
	Errors []*ProviderError

	// Metadata describes how the result was obtained
	Metadata Metadata
}

// Metadata carries per-call provenance for a Result.
type Metadata struct {
	// ProvidersAttempted lists providers consulted, in order. A provider
	// blocked by its circuit breaker still counts as attempted.
	ProvidersAttempted []string

	// Duration is the total time spent producing the result
	Duration time.Duration

	// CircuitBreakerTriggered is true when at least one provider was
	// blocked by its breaker
	CircuitBreakerTriggered bool

	// Deduplicated is true when this caller was served by another
	// caller's in-flight fetch
	Deduplicated bool
}

// SourcedValue pairs a successful provider result with its source name,
// as handed to a MergeStrategy.
type SourcedValue[T any] struct {
	Source string
	Value  T
}

// MergeStrategy reconciles successful results from multiple providers into
// one value. It returns false when no usable merged value can be built.
// The strategy owns the field-level precedence policy.
type MergeStrategy[T any] func(values []SourcedValue[T]) (T, bool)

// BatchResult is the envelope returned by BatchFetch.
type BatchResult[T any] struct {
	// Results maps each resolved key to its single-result envelope
	Results map[string]Result[T]

	// Errors maps each failed key to the errors encountered for it
	Errors map[string][]*ProviderError

	// Summary aggregates the batch outcome
	Summary BatchSummary
}

// BatchSummary aggregates counters for one BatchFetch call.
type BatchSummary struct {
	Total      int           // Keys requested
	Successful int           // Keys resolved (cache or provider)
	Failed     int           // Keys that could not be resolved
	Cached     int           // Keys served from cache
	Fresh      int           // Keys served fresh from the provider
	Duration   time.Duration // Total batch duration
}
