package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Evictor drops every cached result stored under the given trigger names.
type Evictor interface {
	Evict(ctx context.Context, triggers []string) error
}

// EvictorFunc adapts a function to the Evictor interface
type EvictorFunc func(ctx context.Context, triggers []string) error

// Evict calls f
func (f EvictorFunc) Evict(ctx context.Context, triggers []string) error {
	return f(ctx, triggers)
}

// QueryCache is a read-side cache whose entries are grouped by trigger name,
// so that one Evict call can drop every cached variant of a query.
type QueryCache interface {
	Evictor
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, trigger, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, trigger, key string, value interface{}, ttl time.Duration) error
	Close() error
}

// Cache key layout: qc:<trigger>:<key>
const cacheKeyPrefix = "qc:"

// ErrInvalidTriggerName is returned for trigger names that cannot be laid out
// unambiguously in a cache key.
var ErrInvalidTriggerName = errors.New("invalid trigger name")

// ValidateTriggerName rejects empty names and names containing the key
// separator. A trigger "a:b" would otherwise share keys with trigger "a".
func ValidateTriggerName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidTriggerName
	}
	if strings.Contains(name, ":") {
		return ErrInvalidTriggerName
	}
	return nil
}

// QueryCacheKey builds the storage key for one cached result
func QueryCacheKey(trigger, key string) string {
	return cacheKeyPrefix + trigger + ":" + key
}

// TriggerPattern returns the glob matching every key stored under trigger
func TriggerPattern(trigger string) string {
	return cacheKeyPrefix + escapeGlob(trigger) + ":*"
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// NoopCache never stores anything; used when caching is disabled
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string, interface{}) (bool, error) { return false, nil }

func (NoopCache) Set(context.Context, string, string, interface{}, time.Duration) error { return nil }

func (NoopCache) Evict(context.Context, []string) error { return nil }

func (NoopCache) Close() error { return nil }

// BreakingEvictor guards an Evictor with a CircuitBreaker so that an
// unreachable cache is skipped instead of costing a timeout per flush.
type BreakingEvictor struct {
	next    Evictor
	breaker *CircuitBreaker
}

// NewBreakingEvictor wraps next with breaker
func NewBreakingEvictor(next Evictor, breaker *CircuitBreaker) *BreakingEvictor {
	return &BreakingEvictor{next: next, breaker: breaker}
}

// Evict forwards to the wrapped evictor unless the circuit is open
func (b *BreakingEvictor) Evict(ctx context.Context, triggers []string) error {
	return b.breaker.Execute(func() error {
		return b.next.Evict(ctx, triggers)
	})
}

// Breaker exposes the underlying breaker for health reporting
func (b *BreakingEvictor) Breaker() *CircuitBreaker {
	return b.breaker
}
