package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entitycore/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	redisBackend = "redis"
	// maxCacheValueSize rejects values that would bloat Redis memory (10MB)
	maxCacheValueSize = 10 * 1024 * 1024
	// redisScanCount is the COUNT hint used while scanning trigger keys
	redisScanCount = 200
	// redisDelBatch bounds the number of keys per DEL command
	redisDelBatch = 500
)

// RedisCache is a QueryCache backed by Redis. Values are msgpack encoded.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value under trigger/key with expiration
func (rc *RedisCache) Set(ctx context.Context, trigger, key string, value interface{}, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		rc.logger.Errorw("Failed to encode cache value", "trigger", trigger, "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "marshal").Inc()
		return err
	}

	if len(data) > maxCacheValueSize {
		rc.logger.Warnw("Cache value exceeds size limit, rejecting",
			"trigger", trigger, "key", key, "size", len(data), "limit", maxCacheValueSize)
		metrics.CacheErrors.WithLabelValues(redisBackend, "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, QueryCacheKey(trigger, key), data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(redisBackend, "set").Inc()
		return err
	}
	return nil
}

// Get retrieves a value from the cache
func (rc *RedisCache) Get(ctx context.Context, trigger, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, QueryCacheKey(trigger, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues(redisBackend).Inc()
			return false, nil
		}
		rc.logger.Errorw("Failed to get cache value", "trigger", trigger, "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "get").Inc()
		return false, err
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		rc.logger.Errorw("Failed to decode cache value", "trigger", trigger, "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues(redisBackend).Inc()
	return true, nil
}

// Evict deletes every key stored under the given triggers. Keys are found
// with SCAN so a large keyspace never blocks the server.
func (rc *RedisCache) Evict(ctx context.Context, triggers []string) error {
	var errs []error
	for _, trigger := range triggers {
		n, err := rc.evictTrigger(ctx, trigger)
		if err != nil {
			metrics.CacheErrors.WithLabelValues(redisBackend, "evict").Inc()
			errs = append(errs, fmt.Errorf("trigger %s: %w", trigger, err))
			continue
		}
		rc.logger.Debugw("Evicted cached query results", "trigger", trigger, "keys", n)
	}
	return errors.Join(errs...)
}

func (rc *RedisCache) evictTrigger(ctx context.Context, trigger string) (int, error) {
	iter := rc.client.Scan(ctx, 0, TriggerPattern(trigger), redisScanCount).Iterator()
	batch := make([]string, 0, redisDelBatch)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := rc.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisDelBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, flush()
}

// Exists checks if a cached result exists
func (rc *RedisCache) Exists(ctx context.Context, trigger, key string) (bool, error) {
	count, err := rc.client.Exists(ctx, QueryCacheKey(trigger, key)).Result()
	return count > 0, err
}

// GetTTL returns the remaining TTL for a cached result
func (rc *RedisCache) GetTTL(ctx context.Context, trigger, key string) (time.Duration, error) {
	return rc.client.TTL(ctx, QueryCacheKey(trigger, key)).Result()
}
