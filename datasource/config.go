package datasource

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "60s"
// or plain integers (nanoseconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if value.ShortTag() == "!!int" {
		if err := value.Decode(&n); err == nil {
			*d = Duration(n)
			return nil
		}
	}

	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts to a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// BreakerSettings is the YAML-facing form of BreakerConfig.
type BreakerSettings struct {
	FailureThreshold    int      `yaml:"failure_threshold"`
	ResetTimeout        Duration `yaml:"reset_timeout"`
	HalfOpenMaxRequests int      `yaml:"half_open_max_requests"`
}

// toBreakerConfig converts file settings to the runtime config
func (s BreakerSettings) toBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    s.FailureThreshold,
		ResetTimeout:        s.ResetTimeout.Std(),
		HalfOpenMaxRequests: s.HalfOpenMaxRequests,
	}
}

// Config is the YAML-loadable configuration surface: the per-provider
// circuit breaker table and the (resource kind, tier) TTL table. Both are
// loaded once at process start; hot-reload is not supported.
//
// Example:
//
//	default_timeout: 10s
//	fallback_breaker:
//	  failure_threshold: 5
//	  reset_timeout: 60s
//	  half_open_max_requests: 3
//	circuit_breakers:
//	  alphafeed:
//	    failure_threshold: 3
//	    reset_timeout: 30s
//	    half_open_max_requests: 1
//	ttls:
//	  quotes:
//	    free: 60s
//	    premium: 10s
type Config struct {
	// DefaultTimeout bounds each provider attempt (default: 10s)
	DefaultTimeout Duration `yaml:"default_timeout"`

	// StaleWindow is how long expired cache entries stay retrievable
	StaleWindow Duration `yaml:"stale_window"`

	// DefaultTTL is the TTL for (kind, tier) pairs missing from the table
	DefaultTTL Duration `yaml:"default_ttl"`

	// CircuitBreakers maps provider name to breaker settings
	CircuitBreakers map[string]BreakerSettings `yaml:"circuit_breakers"`

	// FallbackBreaker, when set, is used for providers missing from the
	// table instead of treating them as a configuration error
	FallbackBreaker *BreakerSettings `yaml:"fallback_breaker"`

	// TTLs maps resource kind to tier to ttl
	TTLs map[string]map[Tier]Duration `yaml:"ttls"`
}

// LoadConfig reads and parses a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills unset scalar fields
func (c *Config) applyDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = Duration(10 * time.Second)
	}
	if c.StaleWindow <= 0 {
		c.StaleWindow = Duration(defaultStaleWindow)
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = Duration(5 * time.Minute)
	}
}

// BreakerConfigs returns the runtime breaker configuration table
func (c *Config) BreakerConfigs() map[string]BreakerConfig {
	configs := make(map[string]BreakerConfig, len(c.CircuitBreakers))
	for name, settings := range c.CircuitBreakers {
		configs[name] = settings.toBreakerConfig()
	}
	return configs
}

// BreakerRegistry builds a registry from the configuration
func (c *Config) BreakerRegistry(opts ...RegistryOption) *BreakerRegistry {
	if c.FallbackBreaker != nil {
		opts = append(opts, WithFallbackBreakerConfig(c.FallbackBreaker.toBreakerConfig()))
	}
	return NewBreakerRegistry(c.BreakerConfigs(), opts...)
}

// TTLTable returns the runtime TTL table
func (c *Config) TTLTable() *TTLTable {
	entries := make(map[string]map[Tier]time.Duration, len(c.TTLs))
	for kind, byTier := range c.TTLs {
		m := make(map[Tier]time.Duration, len(byTier))
		for tier, ttl := range byTier {
			m[tier] = ttl.Std()
		}
		entries[kind] = m
	}
	return NewTTLTable(entries, c.DefaultTTL.Std())
}
