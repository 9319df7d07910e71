package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/finboard/go-datasource/datasource"
)

// Quote is the demo payload
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	ctx := context.Background()
	logger := datasource.NewStdLogger(datasource.LogLevelInfo)

	store := datasource.NewMemoryStore()
	defer store.StopJanitor()

	registry := datasource.NewBreakerRegistry(map[string]datasource.BreakerConfig{
		"flakyfeed":  {FailureThreshold: 2, ResetTimeout: 30 * time.Second, HalfOpenMaxRequests: 1},
		"steadyfeed": datasource.DefaultBreakerConfig(),
	}, datasource.WithRegistryLogger(logger))

	quotes := datasource.New[Quote](store, registry, datasource.WithLogger[Quote](logger))
	defer quotes.Close()

	// flakyfeed dies on every call; steadyfeed answers.
	var flakyCalls int
	flaky := datasource.NewProviderFunc[Quote]("flakyfeed", func(ctx context.Context, key string) (Quote, error) {
		flakyCalls++
		return Quote{}, errors.New("network unreachable")
	})
	steady := datasource.NewProviderFunc[Quote]("steadyfeed", func(ctx context.Context, key string) (Quote, error) {
		return Quote{Symbol: key, Price: 187.52, Volume: 1_200_000}, nil
	})
	providers := []datasource.Provider[Quote]{flaky, steady}

	// Example 1: sequential fallback.
	fmt.Println("=== Example 1: Fallback chain ===")
	res := quotes.FetchWithFallback(ctx, "AAPL", providers, datasource.DefaultFetchOptions("quotes"))
	fmt.Printf("source=%s cached=%v price=%.2f errors=%d\n",
		res.Source, res.Cached, res.Data.Price, len(res.Errors))

	// Example 2: the same call is now a cache hit.
	fmt.Println("=== Example 2: Cache hit ===")
	res = quotes.FetchWithFallback(ctx, "AAPL", providers, datasource.DefaultFetchOptions("quotes"))
	fmt.Printf("source=%s cached=%v age=%v\n", res.Source, res.Cached, res.Age)

	// Example 3: hammer flakyfeed until its breaker opens.
	fmt.Println("=== Example 3: Circuit breaker ===")
	opts := datasource.DefaultFetchOptions("quotes")
	opts.SkipCache = true
	opts.AllowStale = false
	for i := 0; i < 3; i++ {
		quotes.FetchWithFallback(ctx, "MSFT", providers, opts)
	}
	res = quotes.FetchWithFallback(ctx, "MSFT", providers, opts)
	fmt.Printf("source=%s breakerTriggered=%v flakyCalls=%d\n",
		res.Source, res.Metadata.CircuitBreakerTriggered, flakyCalls)

	// Observability surface.
	fmt.Println("=== Stats ===")
	stats := quotes.GetStats()
	fmt.Printf("cacheHitRate=%.1f%% attempts=%v breakers=%d\n",
		stats.Telemetry.CacheHitRate,
		stats.Telemetry.ProviderAttempts,
		len(stats.CircuitBreakers))
}
