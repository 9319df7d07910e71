package datasource

import (
	"testing"
	"time"
)

// breakerAt returns a breaker driven by a controllable clock
func breakerAt(cfg BreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test-provider", cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerStartsClosed(t *testing.T) {
	cb, _ := breakerAt(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	if cb.State() != StateClosed {
		t.Fatalf("Expected closed, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("Expected CanExecute true while closed")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := breakerAt(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open at threshold, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("Expected CanExecute false while open")
	}

	stats := cb.Stats()
	if stats.FailureCount < 3 {
		t.Errorf("Expected failure count >= 3, got %d", stats.FailureCount)
	}
	if stats.NextRetryTime.IsZero() {
		t.Error("Expected next retry time to be set while open")
	}
}

func TestBreakerSuccessResetsFailureCountWhileClosed(t *testing.T) {
	cb, _ := breakerAt(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after interleaved success, got %s", cb.State())
	}
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	cb, now := breakerAt(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.CanExecute() {
		t.Fatal("Expected CanExecute false immediately after opening")
	}

	// Not yet past the retry time.
	*now = now.Add(30 * time.Second)
	if cb.CanExecute() {
		t.Fatal("Expected CanExecute false before reset timeout elapses")
	}

	*now = now.Add(31 * time.Second)
	if !cb.CanExecute() {
		t.Fatal("Expected first CanExecute after reset timeout to pass")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}

	// The transition resets the probe count; HalfOpenMaxRequests more
	// calls pass before the gate closes.
	if !cb.CanExecute() {
		t.Error("Expected first probe after transition")
	}
	if !cb.CanExecute() {
		t.Error("Expected second probe within HalfOpenMaxRequests")
	}
	if cb.CanExecute() {
		t.Error("Expected probe beyond HalfOpenMaxRequests to be refused")
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	cb, now := breakerAt(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if !cb.CanExecute() {
		t.Fatal("Expected probe to be admitted")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after half-open success, got %s", cb.State())
	}

	stats := cb.Stats()
	if stats.FailureCount != 0 {
		t.Errorf("Expected failure count 0 after close, got %d", stats.FailureCount)
	}
	if stats.HalfOpenProbes != 0 {
		t.Errorf("Expected half-open probes cleared, got %d", stats.HalfOpenProbes)
	}
	if !cb.CanExecute() {
		t.Error("Expected CanExecute true after closing")
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb, now := breakerAt(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if !cb.CanExecute() {
		t.Fatal("Expected probe to be admitted")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after half-open failure, got %s", cb.State())
	}

	// A fresh retry window must be in force.
	if cb.CanExecute() {
		t.Error("Expected CanExecute false right after reopening")
	}
	*now = now.Add(2 * time.Minute)
	if !cb.CanExecute() {
		t.Error("Expected probe after the fresh reset timeout")
	}
}

func TestBreakerReset(t *testing.T) {
	cb, _ := breakerAt(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.Reset()

	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after reset, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("Expected CanExecute true after reset")
	}

	stats := cb.Stats()
	if stats.FailureCount != 0 {
		t.Errorf("Expected failure count 0, got %d", stats.FailureCount)
	}
	if !stats.NextRetryTime.IsZero() {
		t.Error("Expected retry time cleared by reset")
	}
}

func TestBreakerDefaultsAppliedToZeroConfig(t *testing.T) {
	cb := NewCircuitBreaker("zero", BreakerConfig{})
	def := DefaultBreakerConfig()

	if cb.cfg.FailureThreshold != def.FailureThreshold {
		t.Errorf("Expected default threshold %d, got %d", def.FailureThreshold, cb.cfg.FailureThreshold)
	}
	if cb.cfg.ResetTimeout != def.ResetTimeout {
		t.Errorf("Expected default reset timeout %v, got %v", def.ResetTimeout, cb.cfg.ResetTimeout)
	}
	if cb.cfg.HalfOpenMaxRequests != def.HalfOpenMaxRequests {
		t.Errorf("Expected default probe cap %d, got %d", def.HalfOpenMaxRequests, cb.cfg.HalfOpenMaxRequests)
	}
}

func TestBreakerStateString(t *testing.T) {
	cases := map[BreakerState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		BreakerState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
