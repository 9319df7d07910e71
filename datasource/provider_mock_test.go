package datasource

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Quote is the payload type the test suite orchestrates.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// fakeProvider is a scriptable single-key provider.
type fakeProvider struct {
	name    string
	delay   time.Duration
	err     error
	quote   Quote
	healthy bool

	mu    sync.Mutex
	calls int
}

func newFakeProvider(name string, quote Quote) *fakeProvider {
	return &fakeProvider{name: name, quote: quote, healthy: true}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, key string) (Quote, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
	}

	if p.err != nil {
		return Quote{}, p.err
	}

	q := p.quote
	if q.Symbol == "" {
		q.Symbol = key
	}
	return q, nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) bool { return p.healthy }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeBatchProvider is a scriptable batch provider.
type fakeBatchProvider struct {
	name   string
	max    int
	err    error
	prices map[string]float64
	omit   map[string]bool

	mu    sync.Mutex
	calls [][]string
}

func newFakeBatchProvider(name string, max int) *fakeBatchProvider {
	return &fakeBatchProvider{name: name, max: max, prices: map[string]float64{}}
}

func (p *fakeBatchProvider) Name() string      { return p.name }
func (p *fakeBatchProvider) MaxBatchSize() int { return p.max }

func (p *fakeBatchProvider) Fetch(ctx context.Context, key string) (Quote, error) {
	values, err := p.BatchFetch(ctx, []string{key})
	if err != nil {
		return Quote{}, err
	}
	q, ok := values[key]
	if !ok {
		return Quote{}, NewProviderError(CodeNotFound, p.name, "key not found", nil)
	}
	return q, nil
}

func (p *fakeBatchProvider) BatchFetch(ctx context.Context, keys []string) (map[string]Quote, error) {
	p.mu.Lock()
	recorded := make([]string, len(keys))
	copy(recorded, keys)
	p.calls = append(p.calls, recorded)
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	out := make(map[string]Quote, len(keys))
	for _, key := range keys {
		if p.omit[key] {
			continue
		}
		price, ok := p.prices[key]
		if !ok {
			price = 100
		}
		out[key] = Quote{Symbol: key, Price: price, Volume: 1000}
	}
	return out, nil
}

func (p *fakeBatchProvider) batchCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([][]string, len(p.calls))
	copy(calls, p.calls)
	return calls
}

// newTestOrchestrator wires an orchestrator over a fresh memory store with
// a permissive breaker registry.
func newTestOrchestrator(t *testing.T, opts ...Option[Quote]) (*Orchestrator[Quote], *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	t.Cleanup(store.StopJanitor)

	registry := NewBreakerRegistry(nil, WithFallbackBreakerConfig(DefaultBreakerConfig()))
	o := New[Quote](store, registry, opts...)
	t.Cleanup(o.Close)

	return o, store
}

// seedCache writes a quote into the store under the orchestrator key scheme
func seedCache(t *testing.T, store *MemoryStore, prefix, key string, q Quote, ttl time.Duration) {
	t.Helper()

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal quote: %v", err)
	}
	if err := store.Set(context.Background(), cacheKey(prefix, key), data, ttl); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}
