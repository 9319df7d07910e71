package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed CacheStore. Entries are stored as a JSON
// envelope carrying the write time and logical expiry; the physical Redis
// TTL is the logical ttl plus the stale window, so expired entries remain
// retrievable through GetAllowExpired until Redis evicts them.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	staleWindow time.Duration
}

// RedisStoreOptions contains options for the Redis store
type RedisStoreOptions struct {
	// Redis connection
	Addrs    []string // Redis addresses (single: ["localhost:6379"], cluster: multiple)
	Password string   // Redis password
	DB       int      // Database number (only for single node)

	// Pooling
	PoolSize     int // Connection pool size (default: 10)
	MinIdleConns int // Minimum idle connections (default: 5)

	// Timeouts
	DialTimeout  time.Duration // Dial timeout (default: 5s)
	ReadTimeout  time.Duration // Read timeout (default: 3s)
	WriteTimeout time.Duration // Write timeout (default: 3s)

	// Store config
	KeyPrefix   string        // Namespace prefix (default: "datasource")
	StaleWindow time.Duration // How long expired entries stay retrievable (default: 1h)
}

// NewRedisStore creates a Redis store with simple configuration
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	return NewRedisStoreWithOptions(&RedisStoreOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
}

// NewRedisStoreWithOptions creates a Redis store with advanced options
func NewRedisStoreWithOptions(opts *RedisStoreOptions) (*RedisStore, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis store options cannot be nil")
	}

	// Set defaults
	if len(opts.Addrs) == 0 {
		opts.Addrs = []string{"localhost:6379"}
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 5
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "datasource"
	}
	if opts.StaleWindow == 0 {
		opts.StaleWindow = defaultStaleWindow
	}

	var client redis.UniversalClient

	if len(opts.Addrs) == 1 {
		// Single node
		client = redis.NewClient(&redis.Options{
			Addr:         opts.Addrs[0],
			Password:     opts.Password,
			DB:           opts.DB,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		})
	} else {
		// Cluster mode
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addrs,
			Password:     opts.Password,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		})
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:      client,
		prefix:      opts.KeyPrefix,
		staleWindow: opts.StaleWindow,
	}, nil
}

// key namespaces a cache key under the store prefix
func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// load fetches and decodes the envelope for key
func (s *RedisStore) load(ctx context.Context, key string) (CachedItem, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedItem{}, false, nil
		}
		return CachedItem{}, false, fmt.Errorf("redis get: %w", err)
	}

	var item CachedItem
	if err := json.Unmarshal(data, &item); err != nil {
		return CachedItem{}, false, fmt.Errorf("redis entry decode: %w", err)
	}
	return item, true, nil
}

// Get returns the entry only while its logical expiry is in the future
func (s *RedisStore) Get(ctx context.Context, key string) (CachedItem, bool, error) {
	item, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return CachedItem{}, false, err
	}
	if item.expired(time.Now()) {
		return CachedItem{}, false, nil
	}
	return item, true, nil
}

// GetAllowExpired returns the entry even past its logical expiry, as long
// as Redis has not evicted it
func (s *RedisStore) GetAllowExpired(ctx context.Context, key string) (CachedItem, bool, error) {
	return s.load(ctx, key)
}

// Set stores value with logical expiry = now + ttl and a physical Redis TTL
// extended by the stale window
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	item := CachedItem{
		Value:     value,
		WriteTime: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redis entry encode: %w", err)
	}

	if err := s.client.Set(ctx, s.key(key), data, ttl+s.staleWindow).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Age returns the time since the entry was written
func (s *RedisStore) Age(ctx context.Context, key string) (time.Duration, bool, error) {
	item, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	return time.Since(item.WriteTime), true, nil
}

// Clear removes every entry under the store prefix
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
