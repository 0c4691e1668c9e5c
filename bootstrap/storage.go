package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"entitycore/config"
	"entitycore/core"
	"entitycore/storage"

	"go.uber.org/zap"
)

const redisPingTimeout = 3 * time.Second

// InitStore opens the entity store selected by cfg.Storage.Backend.
func InitStore(cfg *config.Config, sugar *zap.SugaredLogger) (storage.EntityStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendSQLite:
		return InitSQLite(cfg.Storage.SQLitePath, sugar)
	case config.StorageBackendMemory:
		sugar.Info("Using in-memory entity store, data will not survive a restart")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// InitSQLite initializes SQLite connection.
func InitSQLite(path string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(path, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, path))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Infow("SQLite initialized successfully", "path", path)
	return sqlite, nil
}

// InitCache builds the query cache selected by cfg.Cache.Backend. A redis
// backend is pinged once so a bad address fails startup instead of every
// flush.
func InitCache(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (core.QueryCache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendNone:
		sugar.Info("Query cache disabled")
		return core.NoopCache{}, nil

	case config.CacheBackendMemory:
		cache, err := core.NewMemoryCache(cfg.Cache.LRUSize, sugar)
		if err != nil {
			return nil, err
		}
		sugar.Infow("In-memory query cache initialized", "size", cfg.Cache.LRUSize)
		return cache, nil

	case config.CacheBackendRedis:
		cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := cache.Ping(pingCtx); err != nil {
			_ = cache.Close()
			printFatal("Redis Connection Failed", ClassifyRedisError(err, cfg.Redis.Addr))
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sugar.Infow("Redis query cache initialized", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return cache, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// InitBreaker builds the circuit breaker that guards cache eviction
func InitBreaker(cfg *config.Config) (*core.CircuitBreaker, error) {
	return core.NewCircuitBreaker("cache_evict", core.CircuitBreakerConfig{
		MaxFailures:         uint32(cfg.CircuitBreaker.MaxFailures),
		Timeout:             cfg.CircuitBreakerTimeout(),
		MaxHalfOpenRequests: uint32(cfg.CircuitBreaker.MaxHalfOpenRequests),
	})
}

func printFatal(title, msg string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}
