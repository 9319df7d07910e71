package datasource

import (
	"testing"
	"time"
)

func TestRegistryUnknownProviderFails(t *testing.T) {
	r := NewBreakerRegistry(map[string]BreakerConfig{
		"alphafeed": {FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxRequests: 1},
	})

	if _, err := r.Get("betafeed"); err == nil {
		t.Fatal("Expected error for unknown provider")
	}
	if _, err := r.Get("alphafeed"); err != nil {
		t.Fatalf("Expected configured provider to resolve: %v", err)
	}
}

func TestRegistryFallbackConfig(t *testing.T) {
	r := NewBreakerRegistry(nil, WithFallbackBreakerConfig(BreakerConfig{
		FailureThreshold:    7,
		ResetTimeout:        time.Minute,
		HalfOpenMaxRequests: 1,
	}))

	cb, err := r.Get("anything")
	if err != nil {
		t.Fatalf("Expected fallback config to apply: %v", err)
	}
	if cb.cfg.FailureThreshold != 7 {
		t.Errorf("Expected fallback threshold 7, got %d", cb.cfg.FailureThreshold)
	}
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewBreakerRegistry(nil, WithFallbackBreakerConfig(DefaultBreakerConfig()))

	a, _ := r.Get("alphafeed")
	b, _ := r.Get("alphafeed")
	if a != b {
		t.Error("Expected the same breaker instance per provider name")
	}
}

func TestRegistryAllStatsAndResetAll(t *testing.T) {
	r := NewBreakerRegistry(nil, WithFallbackBreakerConfig(BreakerConfig{
		FailureThreshold:    1,
		ResetTimeout:        time.Minute,
		HalfOpenMaxRequests: 1,
	}))

	cb, _ := r.Get("alphafeed")
	cb.RecordFailure()

	stats := r.AllStats()
	if stats["alphafeed"].State != StateOpen {
		t.Fatalf("Expected alphafeed open, got %s", stats["alphafeed"].State)
	}

	r.ResetAll()
	if r.AllStats()["alphafeed"].State != StateClosed {
		t.Error("Expected alphafeed closed after ResetAll")
	}
}

func TestRegistryClearAll(t *testing.T) {
	r := NewBreakerRegistry(nil, WithFallbackBreakerConfig(DefaultBreakerConfig()))

	old, _ := r.Get("alphafeed")
	r.ClearAll()

	if len(r.AllStats()) != 0 {
		t.Error("Expected no breakers after ClearAll")
	}

	fresh, _ := r.Get("alphafeed")
	if old == fresh {
		t.Error("Expected a new breaker instance after ClearAll")
	}
}

func TestRegistryForEach(t *testing.T) {
	r := NewBreakerRegistry(nil, WithFallbackBreakerConfig(DefaultBreakerConfig()))
	r.Get("a")
	r.Get("b")

	seen := map[string]bool{}
	r.ForEach(func(name string, cb *CircuitBreaker) {
		seen[name] = true
	})

	if !seen["a"] || !seen["b"] {
		t.Errorf("Expected both breakers visited, got %v", seen)
	}
}
