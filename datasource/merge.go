package datasource

import (
	"context"
	"sync"
	"time"
)

// MergeOptions extend FetchOptions for parallel-merge fetches.
type MergeOptions struct {
	FetchOptions

	// MinProviders is the minimum number of providers that must return
	// data before the merge strategy runs (default: 1)
	MinProviders int
}

// DefaultMergeOptions returns the standard merge options
func DefaultMergeOptions(cacheKeyPrefix string) *MergeOptions {
	return &MergeOptions{
		FetchOptions: *DefaultFetchOptions(cacheKeyPrefix),
		MinProviders: 1,
	}
}

// FetchWithMerge runs every provider in parallel and reconciles the
// successful results through the caller-supplied merge strategy. This mode
// serves cross-source enrichment, e.g. combining two fundamentals feeds
// with field-level precedence; the strategy owns the precedence policy.
//
// The merged value is cached even when only a subset of providers
// succeeded; callers needing all sources set MinProviders accordingly.
// There is no stale-cache rescue on this path.
func (o *Orchestrator[T]) FetchWithMerge(ctx context.Context, key string, providers []Provider[T], merge MergeStrategy[T], opts *MergeOptions) Result[T] {
	if opts == nil {
		opts = DefaultMergeOptions("")
	}
	fetchOpts := o.normalizeOptions(&opts.FetchOptions)
	minProviders := opts.MinProviders
	if minProviders < 1 {
		minProviders = 1
	}

	start := time.Now()
	ck := cacheKey(fetchOpts.CacheKeyPrefix, key)

	if !fetchOpts.SkipCache {
		if value, age, ok := o.cache.get(ctx, ck, false); ok {
			o.telemetry.Record(Event{Type: EventCacheHit, Key: key})
			return Result[T]{
				Data:      &value,
				Source:    SourceCache,
				Cached:    true,
				Timestamp: time.Now(),
				Age:       age,
				Metadata: Metadata{
					ProvidersAttempted: []string{},
					Duration:           time.Since(start),
				},
			}
		}
		o.telemetry.Record(Event{Type: EventCacheMiss, Key: key})
	}

	// Each provider runs as its own one-element fallback chain with the
	// cache read, write-through and stale paths disabled; this path owns
	// the cache write, and only for the merged value.
	subOpts := *fetchOpts
	subOpts.SkipCache = true
	subOpts.SkipCacheWrite = true
	subOpts.AllowStale = false

	subResults := make([]Result[T], len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider[T]) {
			defer wg.Done()
			subResults[i] = o.fetchWithFallback(ctx, key, []Provider[T]{p}, &subOpts)
		}(i, p)
	}
	wg.Wait()

	var (
		values []SourcedValue[T]
		errs   []*ProviderError
	)
	meta := Metadata{ProvidersAttempted: []string{}}
	for _, sub := range subResults {
		meta.ProvidersAttempted = append(meta.ProvidersAttempted, sub.Metadata.ProvidersAttempted...)
		if sub.Metadata.CircuitBreakerTriggered {
			meta.CircuitBreakerTriggered = true
		}
		errs = append(errs, sub.Errors...)
		if sub.Data != nil {
			values = append(values, SourcedValue[T]{Source: sub.Source, Value: *sub.Data})
		}
	}
	meta.Duration = time.Since(start)

	if len(values) < minProviders {
		o.telemetry.Record(Event{Type: EventMergeInsufficientProviders, Key: key, Metadata: map[string]any{
			"successful": len(values),
			"required":   minProviders,
		}})
		o.logger.Warn(ctx, "Not enough providers succeeded for merge",
			F("key", key),
			F("successful", len(values)),
			F("required", minProviders))
		return Result[T]{Timestamp: time.Now(), Errors: errs, Metadata: meta}
	}

	merged, ok := merge(values)
	if !ok {
		o.telemetry.Record(Event{Type: EventMergeFailed, Key: key, Metadata: map[string]any{"providers": len(values)}})
		o.logger.Warn(ctx, "Merge strategy produced no value", F("key", key), F("providers", len(values)))
		return Result[T]{Timestamp: time.Now(), Errors: errs, Metadata: meta}
	}

	o.cache.set(ctx, ck, merged, o.resolveTTL(fetchOpts))
	o.telemetry.Record(Event{Type: EventMergeSuccess, Key: key, Metadata: map[string]any{"providers": len(values)}})
	o.logger.Debug(ctx, "Merge succeeded", F("key", key), F("providers", len(values)))

	meta.Duration = time.Since(start)
	return Result[T]{
		Data:      &merged,
		Source:    SourceMerged,
		Cached:    false,
		Timestamp: time.Now(),
		Age:       0,
		Errors:    errs,
		Metadata:  meta,
	}
}
