package datasource

import (
	"context"
	"time"
)

// FetchWithFallback resolves key by trying providers strictly in the order
// supplied until one succeeds. A fresh cache hit short-circuits before any
// provider is attempted; when every provider fails and the options allow
// it, an expired cache entry is served as a last resort.
//
// The returned envelope always reports what happened; it carries the data
// (nil when every layer failed), the source, the accumulated provider
// errors and the attempt metadata.
func (o *Orchestrator[T]) FetchWithFallback(ctx context.Context, key string, providers []Provider[T], opts *FetchOptions) Result[T] {
	opts = o.normalizeOptions(opts)

	if !opts.Deduplicate {
		return o.fetchWithFallback(ctx, key, providers, opts)
	}

	result, shared, err := o.dedup.Do(ctx, dedupKey(opts.CacheKeyPrefix, key), func(ctx context.Context) Result[T] {
		return o.fetchWithFallback(ctx, key, providers, opts)
	})
	if err != nil {
		// This caller abandoned the wait; the shared fetch keeps running.
		return Result[T]{
			Timestamp: time.Now(),
			Errors:    []*ProviderError{Classify("", err)},
			Metadata:  Metadata{Deduplicated: shared},
		}
	}
	result.Metadata.Deduplicated = shared
	return result
}

// fetchWithFallback is the undeduplicated fallback chain
func (o *Orchestrator[T]) fetchWithFallback(ctx context.Context, key string, providers []Provider[T], opts *FetchOptions) Result[T] {
	start := time.Now()
	ck := cacheKey(opts.CacheKeyPrefix, key)

	if !opts.SkipCache {
		if value, age, ok := o.cache.get(ctx, ck, false); ok {
			o.telemetry.Record(Event{Type: EventCacheHit, Key: key})
			o.logger.Debug(ctx, "Cache hit", F("key", ck), F("age", age))
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

	var errs []*ProviderError
	meta := Metadata{ProvidersAttempted: []string{}}

	for _, p := range providers {
		name := p.Name()

		cb, err := o.breakers.Get(name)
		if err != nil {
			o.logger.Error(ctx, "Provider has no breaker configuration", F("provider", name), F("error", err.Error()))
			errs = append(errs, NewProviderError(CodeUnknown, name, "provider not configured", err))
			meta.ProvidersAttempted = append(meta.ProvidersAttempted, name)
			continue
		}

		if !cb.CanExecute() {
			errs = append(errs, NewProviderError(CodeCircuitOpen, name, "circuit breaker open", nil))
			meta.ProvidersAttempted = append(meta.ProvidersAttempted, name)
			meta.CircuitBreakerTriggered = true
			o.telemetry.Record(Event{Type: EventCircuitOpen, Provider: name, Key: key})
			o.logger.Warn(ctx, "Circuit breaker open, skipping provider", F("provider", name), F("key", key))
			continue
		}

		meta.ProvidersAttempted = append(meta.ProvidersAttempted, name)
		o.telemetry.Record(Event{Type: EventProviderAttempt, Provider: name, Key: key})

		attemptStart := time.Now()
		value, err := o.fetchWithTimeout(ctx, p, key, opts.Timeout)
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			cb.RecordSuccess()
			if !opts.SkipCacheWrite {
				o.cache.set(ctx, ck, value, o.resolveTTL(opts))
			}
			o.telemetry.Record(Event{Type: EventProviderSuccess, Provider: name, Key: key, Duration: attemptDuration})
			o.logger.Debug(ctx, "Provider fetch succeeded",
				F("provider", name),
				F("key", key),
				F("duration", attemptDuration),
				F("attempts", len(meta.ProvidersAttempted)))

			meta.Duration = time.Since(start)
			return Result[T]{
				Data:      &value,
				Source:    name,
				Cached:    false,
				Timestamp: time.Now(),
				Age:       0,
				Errors:    errs,
				Metadata:  meta,
			}
		}

		cb.RecordFailure()
		pe := Classify(name, err)
		errs = append(errs, pe)
		o.telemetry.Record(Event{Type: EventProviderFailure, Provider: name, Key: key, Duration: attemptDuration, Code: pe.Code})
		o.logger.Warn(ctx, "Provider fetch failed, trying next",
			F("provider", name),
			F("key", key),
			F("code", pe.Code),
			F("error", err.Error()))

		if ctx.Err() != nil {
			break
		}
	}

	meta.Duration = time.Since(start)

	if opts.AllowStale {
		if value, age, ok := o.cache.get(ctx, ck, true); ok {
			o.telemetry.Record(Event{Type: EventStaleCacheUsed, Key: key, Metadata: map[string]any{"errors": len(errs)}})
			o.logger.Warn(ctx, "All providers failed, serving stale cache",
				F("key", ck),
				F("age", age),
				F("errors", len(errs)))
			return Result[T]{
				Data:      &value,
				Source:    SourceCache,
				Cached:    true,
				Timestamp: time.Now(),
				Age:       age,
				Errors:    errs,
				Metadata:  meta,
			}
		}
	}

	o.telemetry.Record(Event{Type: EventAllProvidersFailed, Key: key, Metadata: map[string]any{"providers": len(providers)}})
	o.logger.Error(ctx, "All providers failed", F("key", key), F("errors", len(errs)))

	return Result[T]{
		Timestamp: time.Now(),
		Errors:    errs,
		Metadata:  meta,
	}
}

// fetchWithTimeout races a provider fetch against the per-attempt timeout.
// The fetch goroutine is handed the bounded context; providers that ignore
// cancellation are abandoned, not awaited.
func (o *Orchestrator[T]) fetchWithTimeout(ctx context.Context, p Provider[T], key string, timeout time.Duration) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		value, err := p.Fetch(tctx, key)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-tctx.Done():
		var zero T
		return zero, Classify(p.Name(), tctx.Err())
	}
}
