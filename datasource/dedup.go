package datasource

import (
	"context"
	"sync"
	"time"
)

const (
	// dedupEntryMaxAge is the hard ceiling on an in-flight entry's age.
	// Entries older than this are treated as abandoned and replaced.
	dedupEntryMaxAge = 30 * time.Second

	// dedupCleanupInterval is the scavenger cadence
	dedupCleanupInterval = 5 * time.Minute
)

// DedupStats describes the pending entries of a Deduplicator.
type DedupStats struct {
	Pending   int           `json:"pending"`
	OldestAge time.Duration `json:"oldest_age"`
}

// inflight is one pending fetch shared by all callers of the same key.
// The result is published before done is closed; the entry is removed from
// the table before done is closed (settle-then-delete).
type inflight[T any] struct {
	created time.Time
	done    chan struct{}
	result  Result[T]
}

// Deduplicator collapses concurrent identical requests so that only one
// fetch executes per key. Followers await the leader's in-flight result;
// a follower abandoning its wait does not cancel the shared fetch.
type Deduplicator[T any] struct {
	mu      sync.Mutex
	entries map[string]*inflight[T]
	logger  Logger
	now     func() time.Time

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewDeduplicator creates a deduplicator and starts its scavenger.
// The scavenger prunes entries older than 30 s every 5 minutes and does not
// keep the process alive.
func NewDeduplicator[T any](logger Logger) *Deduplicator[T] {
	if logger == nil {
		logger = &NoopLogger{}
	}
	d := &Deduplicator[T]{
		entries:     make(map[string]*inflight[T]),
		logger:      logger,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// Do returns the result of fetch for key, collapsing concurrent callers.
// The second return value reports whether this caller was served by another
// caller's in-flight fetch. The error is non-nil only when ctx is done
// before the shared fetch settles; the fetch itself keeps running for the
// remaining waiters.
func (d *Deduplicator[T]) Do(ctx context.Context, key string, fetch func(ctx context.Context) Result[T]) (Result[T], bool, error) {
	d.mu.Lock()

	if e, ok := d.entries[key]; ok {
		if d.now().Sub(e.created) < dedupEntryMaxAge {
			d.mu.Unlock()
			return d.wait(ctx, e, true)
		}
		// Abandoned entry; replace it and fetch fresh.
		delete(d.entries, key)
		d.logger.Warn(ctx, "Discarding stale in-flight entry", F("key", key))
	}

	e := &inflight[T]{
		created: d.now(),
		done:    make(chan struct{}),
	}
	d.entries[key] = e
	d.mu.Unlock()

	// The fetch runs detached from the leader's cancellation so followers
	// still get a result if the leader walks away.
	go func() {
		result := fetch(context.WithoutCancel(ctx))

		d.mu.Lock()
		delete(d.entries, key)
		d.mu.Unlock()

		e.result = result
		close(e.done)
	}()

	return d.wait(ctx, e, false)
}

// wait blocks until the entry settles or ctx is done
func (d *Deduplicator[T]) wait(ctx context.Context, e *inflight[T], deduplicated bool) (Result[T], bool, error) {
	select {
	case <-e.done:
		return e.result, deduplicated, nil
	case <-ctx.Done():
		var zero Result[T]
		return zero, deduplicated, ctx.Err()
	}
}

// Stats returns the pending entry count and the oldest entry age
func (d *Deduplicator[T]) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DedupStats{Pending: len(d.entries)}
	now := d.now()
	for _, e := range d.entries {
		if age := now.Sub(e.created); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	return stats
}

// Clear drops all pending entries. Intended for tests; waiters on dropped
// entries still settle when their fetch finishes.
func (d *Deduplicator[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*inflight[T])
}

// StopCleanup stops the scavenger goroutine. Safe to call more than once.
func (d *Deduplicator[T]) StopCleanup() {
	d.cleanupOnce.Do(func() {
		close(d.stopCleanup)
	})
}

// cleanupLoop prunes abandoned entries on a fixed cadence
func (d *Deduplicator[T]) cleanupLoop() {
	ticker := time.NewTicker(dedupCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.prune()
		case <-d.stopCleanup:
			return
		}
	}
}

// prune removes entries past the hard age ceiling
func (d *Deduplicator[T]) prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, e := range d.entries {
		if now.Sub(e.created) >= dedupEntryMaxAge {
			delete(d.entries, key)
		}
	}
}
