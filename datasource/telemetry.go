package datasource

import (
	"sync"
	"time"
)

// EventType identifies a telemetry event. The set is closed.
type EventType string

const (
	EventCacheHit                   EventType = "cache_hit"
	EventCacheMiss                  EventType = "cache_miss"
	EventStaleCacheUsed             EventType = "stale_cache_used"
	EventProviderAttempt            EventType = "provider_attempt"
	EventProviderSuccess            EventType = "provider_success"
	EventProviderFailure            EventType = "provider_failure"
	EventCircuitOpen                EventType = "circuit_open"
	EventMergeSuccess               EventType = "merge_success"
	EventMergeFailed                EventType = "merge_failed"
	EventMergeInsufficientProviders EventType = "merge_insufficient_providers"
	EventBatchFetch                 EventType = "batch_fetch"
	EventAllProvidersFailed         EventType = "all_providers_failed"
)

// Event is one structured telemetry record.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Provider  string         `json:"provider,omitempty"`
	Key       string         `json:"key,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Code      ErrorCode      `json:"code,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// eventRingCapacity bounds the retained event history (drop-oldest)
const eventRingCapacity = 1000

// TelemetryStats is a point-in-time snapshot of the sink's aggregates.
type TelemetryStats struct {
	CacheHits          int64   `json:"cache_hits"`
	CacheMisses        int64   `json:"cache_misses"`
	StaleCacheUsed     int64   `json:"stale_cache_used"`
	CircuitOpenEvents  int64   `json:"circuit_open_events"`
	MergeSuccesses     int64   `json:"merge_successes"`
	MergeFailures      int64   `json:"merge_failures"`
	BatchOperations    int64   `json:"batch_operations"`
	AllProvidersFailed int64   `json:"all_providers_failed"`
	CacheHitRate       float64 `json:"cache_hit_rate"` // percent

	ProviderAttempts  map[string]int64               `json:"provider_attempts"`
	ProviderSuccesses map[string]int64               `json:"provider_successes"`
	ProviderErrors    map[string]map[ErrorCode]int64 `json:"provider_errors"`

	ProviderLatency map[string]LatencySummary `json:"provider_latency"`

	TotalEvents int64 `json:"total_events"`
}

// Telemetry is a process-lifetime sink for structured events. Recording is
// best-effort: it never fails and never blocks the caller's critical path
// beyond a short mutex hold.
type Telemetry struct {
	mu sync.Mutex

	cacheHits          int64
	cacheMisses        int64
	staleCacheUsed     int64
	circuitOpenEvents  int64
	mergeSuccesses     int64
	mergeFailures      int64
	batchOperations    int64
	allProvidersFailed int64
	cacheHitRate       float64

	providerAttempts  map[string]int64
	providerSuccesses map[string]int64
	providerErrors    map[string]map[ErrorCode]int64
	latencies         map[string]*latencyWindow

	events      []Event
	nextEvent   int
	totalEvents int64
}

// NewTelemetry creates an empty telemetry sink
func NewTelemetry() *Telemetry {
	return &Telemetry{
		providerAttempts:  make(map[string]int64),
		providerSuccesses: make(map[string]int64),
		providerErrors:    make(map[string]map[ErrorCode]int64),
		latencies:         make(map[string]*latencyWindow),
		events:            make([]Event, 0, eventRingCapacity),
	}
}

// Record ingests one event, updating the aggregate counters and the bounded
// recent-event ring. A zero timestamp is filled with the current time.
func (t *Telemetry) Record(ev Event) {
	defer func() {
		// Telemetry must never take down a fetch.
		_ = recover()
	}()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case EventCacheHit:
		t.cacheHits++
		t.recomputeHitRate()
	case EventCacheMiss:
		t.cacheMisses++
		t.recomputeHitRate()
	case EventStaleCacheUsed:
		t.staleCacheUsed++
	case EventProviderAttempt:
		t.providerAttempts[ev.Provider]++
	case EventProviderSuccess:
		t.providerSuccesses[ev.Provider]++
		if ev.Duration > 0 {
			t.latencyFor(ev.Provider).observe(ev.Duration)
		}
	case EventProviderFailure:
		errs := t.providerErrors[ev.Provider]
		if errs == nil {
			errs = make(map[ErrorCode]int64)
			t.providerErrors[ev.Provider] = errs
		}
		code := ev.Code
		if code == "" {
			code = CodeUnknown
		}
		errs[code]++
		if ev.Duration > 0 {
			t.latencyFor(ev.Provider).observe(ev.Duration)
		}
	case EventCircuitOpen:
		t.circuitOpenEvents++
	case EventMergeSuccess:
		t.mergeSuccesses++
	case EventMergeFailed, EventMergeInsufficientProviders:
		t.mergeFailures++
	case EventBatchFetch:
		t.batchOperations++
	case EventAllProvidersFailed:
		t.allProvidersFailed++
	}

	t.append(ev)
}

// recomputeHitRate refreshes the derived hit rate. Caller holds t.mu.
func (t *Telemetry) recomputeHitRate() {
	total := t.cacheHits + t.cacheMisses
	if total == 0 {
		t.cacheHitRate = 0
		return
	}
	t.cacheHitRate = float64(t.cacheHits) / float64(total) * 100.0
}

// latencyFor returns the latency window for a provider. Caller holds t.mu.
func (t *Telemetry) latencyFor(provider string) *latencyWindow {
	w := t.latencies[provider]
	if w == nil {
		w = newLatencyWindow()
		t.latencies[provider] = w
	}
	return w
}

// append pushes an event into the ring, dropping the oldest when full.
// Caller holds t.mu.
func (t *Telemetry) append(ev Event) {
	t.totalEvents++
	if len(t.events) < eventRingCapacity {
		t.events = append(t.events, ev)
		return
	}
	t.events[t.nextEvent] = ev
	t.nextEvent = (t.nextEvent + 1) % eventRingCapacity
}

// Snapshot returns a copy of the aggregate counters
func (t *Telemetry) Snapshot() TelemetryStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TelemetryStats{
		CacheHits:          t.cacheHits,
		CacheMisses:        t.cacheMisses,
		StaleCacheUsed:     t.staleCacheUsed,
		CircuitOpenEvents:  t.circuitOpenEvents,
		MergeSuccesses:     t.mergeSuccesses,
		MergeFailures:      t.mergeFailures,
		BatchOperations:    t.batchOperations,
		AllProvidersFailed: t.allProvidersFailed,
		CacheHitRate:       t.cacheHitRate,
		ProviderAttempts:   make(map[string]int64, len(t.providerAttempts)),
		ProviderSuccesses:  make(map[string]int64, len(t.providerSuccesses)),
		ProviderErrors:     make(map[string]map[ErrorCode]int64, len(t.providerErrors)),
		ProviderLatency:    make(map[string]LatencySummary, len(t.latencies)),
		TotalEvents:        t.totalEvents,
	}
	for name, n := range t.providerAttempts {
		stats.ProviderAttempts[name] = n
	}
	for name, n := range t.providerSuccesses {
		stats.ProviderSuccesses[name] = n
	}
	for name, errs := range t.providerErrors {
		byCode := make(map[ErrorCode]int64, len(errs))
		for code, n := range errs {
			byCode[code] = n
		}
		stats.ProviderErrors[name] = byCode
	}
	for name, w := range t.latencies {
		stats.ProviderLatency[name] = w.summary()
	}

	return stats
}

// RecentEvents returns up to n of the most recent events, oldest first.
// n <= 0 returns everything retained.
func (t *Telemetry) RecentEvents(n int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(t.events)
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	// Ring order: oldest entry sits at nextEvent once the ring has wrapped.
	start := 0
	if size == eventRingCapacity {
		start = t.nextEvent
	}
	for i := size - n; i < size; i++ {
		out = append(out, t.events[(start+i)%size])
	}
	return out
}

// Reset clears all counters and retained events
func (t *Telemetry) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cacheHits = 0
	t.cacheMisses = 0
	t.staleCacheUsed = 0
	t.circuitOpenEvents = 0
	t.mergeSuccesses = 0
	t.mergeFailures = 0
	t.batchOperations = 0
	t.allProvidersFailed = 0
	t.cacheHitRate = 0
	t.providerAttempts = make(map[string]int64)
	t.providerSuccesses = make(map[string]int64)
	t.providerErrors = make(map[string]map[ErrorCode]int64)
	t.latencies = make(map[string]*latencyWindow)
	t.events = make([]Event, 0, eventRingCapacity)
	t.nextEvent = 0
	t.totalEvents = 0
}
