package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Storage backends
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
)

// Config holds all configuration for the entitycore service
type Config struct {
	Identifiers struct {
		SequenceWidth int    `mapstructure:"sequence_width"`
		Seed          uint64 `mapstructure:"seed"` // first issued value is seed+1
	} `mapstructure:"identifiers"`

	Transitions struct {
		// Strict turns illegal transitions into errors instead of no-ops
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"transitions"`

	Invalidation struct {
		Workers       int           `mapstructure:"workers"`
		QueueSize     int           `mapstructure:"queue_size"`
		EvictTimeout  time.Duration `mapstructure:"evict_timeout"`
		SubmitTimeout time.Duration `mapstructure:"submit_timeout"` // 0 = drop immediately when the queue is full
	} `mapstructure:"invalidation"`

	Cache struct {
		Backend string        `mapstructure:"backend"` // memory, redis, none
		LRUSize int           `mapstructure:"lru_size"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	CircuitBreaker struct {
		MaxFailures         int `mapstructure:"max_failures"`           // failures before opening the circuit
		TimeoutSeconds      int `mapstructure:"timeout_seconds"`        // wait before a half-open probe
		MaxHalfOpenRequests int `mapstructure:"max_half_open_requests"` // concurrent probes in half-open
	} `mapstructure:"circuit_breaker"`

	Storage struct {
		Backend    string `mapstructure:"backend"` // memory, sqlite
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	API struct {
		Enabled        bool     `mapstructure:"enabled"`
		Addr           string   `mapstructure:"addr"`
		TrustProxy     bool     `mapstructure:"trust_proxy"`
		TrustedProxies []string `mapstructure:"trusted_proxies"` // IPs or CIDRs allowed to set X-Forwarded-For
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"api"`

	// ManifestPath points at the YAML entity manifest. Empty loads only the
	// built-in lifecycles.
	ManifestPath string `mapstructure:"manifest_path"`
}

// setDefaults sets default configuration values on v
func setDefaults(v *viper.Viper) {
	v.SetDefault("identifiers.sequence_width", 9)
	v.SetDefault("identifiers.seed", 0)

	v.SetDefault("transitions.strict", false)

	v.SetDefault("invalidation.workers", 2)
	v.SetDefault("invalidation.queue_size", 256)
	v.SetDefault("invalidation.evict_timeout", 2*time.Second)
	v.SetDefault("invalidation.submit_timeout", 0)

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.lru_size", 4096)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("circuit_breaker.max_failures", 5)
	v.SetDefault("circuit_breaker.timeout_seconds", 30)
	v.SetDefault("circuit_breaker.max_half_open_requests", 1)

	v.SetDefault("storage.backend", StorageBackendMemory)
	v.SetDefault("storage.sqlite_path", "./data/entitycore.db")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8081")
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.trusted_proxies", []string{})
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("api.rate_limit.requests_per_second", 50)
	v.SetDefault("api.rate_limit.burst", 100)
	v.SetDefault("api.shutdown_timeout", 5*time.Second)

	v.SetDefault("manifest_path", "")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("ENTITYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings people override most
	_ = v.BindEnv("manifest_path", "ENTITYCORE_MANIFEST")
	_ = v.BindEnv("storage.sqlite_path", "ENTITYCORE_SQLITE_PATH")
	_ = v.BindEnv("redis.addr", "ENTITYCORE_REDIS_ADDR")
}

// LoadConfig loads configuration from config.yaml (in . or ./config) and the
// environment. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load reads configuration from file, or from the default search path when
// file is empty. Environment variables override file values.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if config.Storage.SQLitePath != "" {
		config.Storage.SQLitePath = filepath.Clean(config.Storage.SQLitePath)
	}

	return &config, nil
}

// CircuitBreakerTimeout returns the open-state timeout as a duration
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return time.Duration(c.CircuitBreaker.TimeoutSeconds) * time.Second
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.Identifiers.SequenceWidth < 1 || config.Identifiers.SequenceWidth > 20 {
		return fmt.Errorf("identifiers.sequence_width must be between 1 and 20, got %d", config.Identifiers.SequenceWidth)
	}

	if config.Invalidation.Workers < 1 {
		return fmt.Errorf("invalidation.workers must be positive, got %d", config.Invalidation.Workers)
	}
	if config.Invalidation.QueueSize < 1 {
		return fmt.Errorf("invalidation.queue_size must be positive, got %d", config.Invalidation.QueueSize)
	}
	if config.Invalidation.EvictTimeout <= 0 {
		return fmt.Errorf("invalidation.evict_timeout must be positive, got %s", config.Invalidation.EvictTimeout)
	}
	if config.Invalidation.SubmitTimeout < 0 {
		return fmt.Errorf("invalidation.submit_timeout cannot be negative")
	}

	switch config.Cache.Backend {
	case CacheBackendMemory:
		if config.Cache.LRUSize < 1 {
			return fmt.Errorf("cache.lru_size must be positive, got %d", config.Cache.LRUSize)
		}
	case CacheBackendRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when cache.backend is redis")
		}
		if config.Redis.PoolSize < 1 {
			return fmt.Errorf("redis.pool_size must be positive, got %d", config.Redis.PoolSize)
		}
	case CacheBackendNone:
	default:
		return fmt.Errorf("invalid cache.backend %q: must be memory, redis or none", config.Cache.Backend)
	}
	if config.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}

	if config.CircuitBreaker.MaxFailures < 1 {
		return fmt.Errorf("circuit_breaker.max_failures must be positive")
	}
	if config.CircuitBreaker.TimeoutSeconds < 1 {
		return fmt.Errorf("circuit_breaker.timeout_seconds must be positive")
	}
	if config.CircuitBreaker.MaxHalfOpenRequests < 1 {
		return fmt.Errorf("circuit_breaker.max_half_open_requests must be positive")
	}

	switch config.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendSQLite:
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required when storage.backend is sqlite")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q: must be memory or sqlite", config.Storage.Backend)
	}

	if config.API.Enabled {
		if config.API.Addr == "" {
			return fmt.Errorf("api.addr is required when the API is enabled")
		}
		if config.API.RateLimit.RequestsPerSecond <= 0 || config.API.RateLimit.Burst < 1 {
			return fmt.Errorf("api.rate_limit requires positive requests_per_second and burst")
		}
	}

	return nil
}
