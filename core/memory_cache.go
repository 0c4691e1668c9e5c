package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitycore/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const memoryBackend = "memory"

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is a bounded, process-local QueryCache. Entries are msgpack
// encoded so callers never share mutable values with the cache.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]
	size    int

	mu    sync.Mutex
	index map[string]map[string]struct{} // trigger -> cache keys

	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewMemoryCache creates an LRU-backed cache holding at most size entries
func NewMemoryCache(size int, logger *zap.SugaredLogger) (*MemoryCache, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MemoryCache{
		entries: entries,
		size:    size,
		index:   make(map[string]map[string]struct{}),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Set stores value under trigger/key. ttl <= 0 keeps it until evicted.
func (mc *MemoryCache) Set(_ context.Context, trigger, key string, value interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(memoryBackend, "marshal").Inc()
		return err
	}

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = mc.now().Add(ttl)
	}

	k := QueryCacheKey(trigger, key)

	// mu spans the LRU write so a concurrent Evict cannot miss this key
	mc.mu.Lock()
	mc.entries.Add(k, entry)
	keys, ok := mc.index[trigger]
	if !ok {
		keys = make(map[string]struct{})
		mc.index[trigger] = keys
	}
	keys[k] = struct{}{}
	if len(keys) > 2*mc.size {
		mc.pruneLocked(keys)
	}
	mc.mu.Unlock()
	return nil
}

// pruneLocked drops index entries the LRU has already evicted
func (mc *MemoryCache) pruneLocked(keys map[string]struct{}) {
	for k := range keys {
		if !mc.entries.Contains(k) {
			delete(keys, k)
		}
	}
}

// Get decodes the cached value into dest
func (mc *MemoryCache) Get(_ context.Context, trigger, key string, dest interface{}) (bool, error) {
	k := QueryCacheKey(trigger, key)
	entry, ok := mc.entries.Get(k)
	if !ok {
		metrics.CacheMisses.WithLabelValues(memoryBackend).Inc()
		return false, nil
	}
	if !entry.expiresAt.IsZero() && mc.now().After(entry.expiresAt) {
		mc.entries.Remove(k)
		metrics.CacheMisses.WithLabelValues(memoryBackend).Inc()
		return false, nil
	}
	if err := msgpack.Unmarshal(entry.data, dest); err != nil {
		metrics.CacheErrors.WithLabelValues(memoryBackend, "unmarshal").Inc()
		return false, err
	}
	metrics.CacheHits.WithLabelValues(memoryBackend).Inc()
	return true, nil
}

// Evict removes every entry stored under the given triggers
func (mc *MemoryCache) Evict(_ context.Context, triggers []string) error {
	mc.mu.Lock()
	removed := 0
	for _, trigger := range triggers {
		for k := range mc.index[trigger] {
			if mc.entries.Remove(k) {
				removed++
			}
		}
		delete(mc.index, trigger)
	}
	mc.mu.Unlock()

	mc.logger.Debugw("Evicted cached query results", "triggers", triggers, "keys", removed)
	return nil
}

// Len returns the number of cached entries, expired ones included
func (mc *MemoryCache) Len() int {
	return mc.entries.Len()
}

// Close purges the cache
func (mc *MemoryCache) Close() error {
	mc.entries.Purge()
	mc.mu.Lock()
	mc.index = make(map[string]map[string]struct{})
	mc.mu.Unlock()
	return nil
}
