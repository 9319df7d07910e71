package datasource

import (
	"context"
	"testing"
)

func TestRateLimitedProviderRefusesWhenExhausted(t *testing.T) {
	inner := newFakeProvider("alphafeed", Quote{Symbol: "AAPL", Price: 100})
	// Refill so slowly the bucket never recovers within the test.
	p := NewRateLimitedProvider[Quote](inner, 0.001, 1)
	ctx := context.Background()

	if _, err := p.Fetch(ctx, "AAPL"); err != nil {
		t.Fatalf("Expected first fetch to pass: %v", err)
	}

	_, err := p.Fetch(ctx, "AAPL")
	if err == nil {
		t.Fatal("Expected second fetch to be rate limited")
	}
	if !HasCode(err, CodeRateLimit) {
		t.Errorf("Expected RATE_LIMIT, got %s", CodeOf(err))
	}
	if inner.callCount() != 1 {
		t.Errorf("Expected inner provider called once, got %d", inner.callCount())
	}
}

func TestRateLimitedProviderKeepsNameAndHealth(t *testing.T) {
	inner := newFakeProvider("alphafeed", Quote{})
	p := NewRateLimitedProvider[Quote](inner, 1, 1)

	if p.Name() != "alphafeed" {
		t.Errorf("Expected inner name, got %s", p.Name())
	}
	if !p.HealthCheck(context.Background()) {
		t.Error("Expected healthy pass-through")
	}

	inner.healthy = false
	if p.HealthCheck(context.Background()) {
		t.Error("Expected unhealthy pass-through")
	}
}

func TestRateLimitedBatchProviderOneTokenPerBatch(t *testing.T) {
	inner := newFakeBatchProvider("bulkfeed", 10)
	p := NewRateLimitedBatchProvider[Quote](inner, 0.001, 1)
	ctx := context.Background()

	values, err := p.BatchFetch(ctx, []string{"AAPL", "MSFT", "GOOGL"})
	if err != nil {
		t.Fatalf("Expected first batch to pass: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("Expected 3 values, got %d", len(values))
	}

	_, err = p.BatchFetch(ctx, []string{"TSLA"})
	if !HasCode(err, CodeRateLimit) {
		t.Errorf("Expected RATE_LIMIT on second batch, got %v", err)
	}

	if p.MaxBatchSize() != 10 {
		t.Errorf("Expected batch size pass-through, got %d", p.MaxBatchSize())
	}
}

func TestRateLimitErrorFeedsBreaker(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	inner := newFakeProvider("alphafeed", Quote{Symbol: "AAPL", Price: 100})
	p := NewRateLimitedProvider[Quote](inner, 0.001, 1)

	opts := DefaultFetchOptions("quotes")
	opts.SkipCache = true
	opts.AllowStale = false
	opts.Deduplicate = false

	ctx := context.Background()
	o.FetchWithFallback(ctx, "AAPL", []Provider[Quote]{p}, opts)
	res := o.FetchWithFallback(ctx, "AAPL", []Provider[Quote]{p}, opts)

	if len(res.Errors) != 1 || res.Errors[0].Code != CodeRateLimit {
		t.Fatalf("Expected RATE_LIMIT surfaced in envelope, got %+v", res.Errors)
	}

	cb, err := o.Breakers().Get("alphafeed")
	if err != nil {
		t.Fatalf("Breaker lookup failed: %v", err)
	}
	if cb.Stats().FailureCount != 1 {
		t.Errorf("Expected one breaker failure from the refused token, got %d", cb.Stats().FailureCount)
	}
}
