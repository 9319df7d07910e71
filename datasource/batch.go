package datasource

import (
	"context"
	"sync"
	"time"
)

// BatchFetch resolves a set of keys through one batch-capable provider.
// Fresh cache hits are served directly; the leftover keys are partitioned
// into chunks of at most the provider's MaxBatchSize and dispatched in
// parallel. The breaker is consulted once per chunk, and a chunk failure
// counts as one breaker failure regardless of the chunk's key count.
//
// Partial chunk results are accepted as-is; keys the provider omitted are
// marked failed with NOT_FOUND. There is no stale-cache rescue on this path.
func (o *Orchestrator[T]) BatchFetch(ctx context.Context, keys []string, provider BatchProvider[T], opts *FetchOptions) BatchResult[T] {
	opts = o.normalizeOptions(opts)
	start := time.Now()

	res := BatchResult[T]{
		Results: make(map[string]Result[T], len(keys)),
		Errors:  make(map[string][]*ProviderError),
	}

	var mu sync.Mutex

	// Cache pass, one lookup per key in parallel.
	if !opts.SkipCache {
		var wg sync.WaitGroup
		for _, key := range keys {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()

				ck := cacheKey(opts.CacheKeyPrefix, key)
				value, age, ok := o.cache.get(ctx, ck, false)

				mu.Lock()
				defer mu.Unlock()
				if ok {
					o.telemetry.Record(Event{Type: EventCacheHit, Key: key})
					res.Results[key] = Result[T]{
						Data:      &value,
						Source:    SourceCache,
						Cached:    true,
						Timestamp: time.Now(),
						Age:       age,
						Metadata:  Metadata{ProvidersAttempted: []string{}},
					}
				} else {
					o.telemetry.Record(Event{Type: EventCacheMiss, Key: key})
				}
			}(key)
		}
		wg.Wait()
	}

	uncached := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := res.Results[key]; !ok {
			uncached = append(uncached, key)
		}
	}

	if len(uncached) == 0 {
		res.Summary = o.batchSummary(keys, &res, start)
		return res
	}

	chunks := chunkKeys(uncached, provider.MaxBatchSize())
	o.telemetry.Record(Event{Type: EventBatchFetch, Provider: provider.Name(), Metadata: map[string]any{
		"uncached": len(uncached),
		"chunks":   len(chunks),
	}})
	o.logger.Debug(ctx, "Dispatching batch fetch",
		F("provider", provider.Name()),
		F("uncached", len(uncached)),
		F("chunks", len(chunks)))

	name := provider.Name()
	cb, err := o.breakers.Get(name)
	if err != nil {
		o.logger.Error(ctx, "Batch provider has no breaker configuration", F("provider", name), F("error", err.Error()))
		pe := NewProviderError(CodeUnknown, name, "provider not configured", err)
		for _, key := range uncached {
			res.Errors[key] = append(res.Errors[key], pe)
		}
		res.Summary = o.batchSummary(keys, &res, start)
		return res
	}

	ttl := o.resolveTTL(opts)

	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()

			if !cb.CanExecute() {
				o.telemetry.Record(Event{Type: EventCircuitOpen, Provider: name})
				pe := NewProviderError(CodeCircuitOpen, name, "circuit breaker open", nil)
				mu.Lock()
				for _, key := range chunk {
					res.Errors[key] = append(res.Errors[key], pe)
				}
				mu.Unlock()
				return
			}

			o.telemetry.Record(Event{Type: EventProviderAttempt, Provider: name, Metadata: map[string]any{"keys": len(chunk)}})

			chunkStart := time.Now()
			values, err := o.batchFetchWithTimeout(ctx, provider, chunk, opts.Timeout)
			chunkDuration := time.Since(chunkStart)

			if err != nil {
				cb.RecordFailure()
				pe := Classify(name, err)
				o.telemetry.Record(Event{Type: EventProviderFailure, Provider: name, Duration: chunkDuration, Code: pe.Code})
				o.logger.Warn(ctx, "Batch chunk failed",
					F("provider", name),
					F("keys", len(chunk)),
					F("code", pe.Code),
					F("error", err.Error()))

				mu.Lock()
				for _, key := range chunk {
					res.Errors[key] = append(res.Errors[key], pe)
				}
				mu.Unlock()
				return
			}

			cb.RecordSuccess()
			o.telemetry.Record(Event{Type: EventProviderSuccess, Provider: name, Duration: chunkDuration, Metadata: map[string]any{"keys": len(values)}})

			mu.Lock()
			defer mu.Unlock()
			for _, key := range chunk {
				value, ok := values[key]
				if !ok {
					res.Errors[key] = append(res.Errors[key],
						NewProviderError(CodeNotFound, name, "key missing from batch response", nil))
					continue
				}
				o.cache.set(ctx, cacheKey(opts.CacheKeyPrefix, key), value, ttl)
				res.Results[key] = Result[T]{
					Data:      &value,
					Source:    name,
					Cached:    false,
					Timestamp: time.Now(),
					Age:       0,
					Metadata:  Metadata{ProvidersAttempted: []string{name}},
				}
			}
		}(chunk)
	}
	wg.Wait()

	res.Summary = o.batchSummary(keys, &res, start)
	return res
}

// batchFetchWithTimeout races a batch call against the per-attempt timeout
func (o *Orchestrator[T]) batchFetchWithTimeout(ctx context.Context, provider BatchProvider[T], keys []string, timeout time.Duration) (map[string]T, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		values map[string]T
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		values, err := provider.BatchFetch(tctx, keys)
		ch <- outcome{values: values, err: err}
	}()

	select {
	case out := <-ch:
		return out.values, out.err
	case <-tctx.Done():
		return nil, Classify(provider.Name(), tctx.Err())
	}
}

// batchSummary derives the summary counters from the filled result maps
func (o *Orchestrator[T]) batchSummary(keys []string, res *BatchResult[T], start time.Time) BatchSummary {
	summary := BatchSummary{
		Total:    len(keys),
		Duration: time.Since(start),
	}
	for _, r := range res.Results {
		summary.Successful++
		if r.Cached {
			summary.Cached++
		} else {
			summary.Fresh++
		}
	}
	summary.Failed = len(res.Errors)
	return summary
}

// chunkKeys partitions keys greedily in input order into chunks of at most
// maxSize; non-positive maxSize yields a single chunk.
func chunkKeys(keys []string, maxSize int) [][]string {
	if maxSize <= 0 || len(keys) <= maxSize {
		return [][]string{keys}
	}

	chunks := make([][]string, 0, (len(keys)+maxSize-1)/maxSize)
	for start := 0; start < len(keys); start += maxSize {
		end := start + maxSize
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
