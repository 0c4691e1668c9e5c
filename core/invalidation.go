package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"entitycore/metrics"
	"entitycore/util/goroutine"

	"go.uber.org/zap"
)

// InvalidationConfig controls how flushes are dispatched
type InvalidationConfig struct {
	// Workers is the number of goroutines calling the evictor
	Workers int
	// QueueSize bounds pending flushes; a full queue drops the flush
	QueueSize int
	// EvictTimeout bounds a single Evict call
	EvictTimeout time.Duration
	// SubmitTimeout is how long Flush waits for queue space before dropping.
	// Zero drops immediately.
	SubmitTimeout time.Duration
}

// DefaultInvalidationConfig returns sensible defaults
func DefaultInvalidationConfig() InvalidationConfig {
	return InvalidationConfig{
		Workers:      2,
		QueueSize:    256,
		EvictTimeout: 2 * time.Second,
	}
}

// Trigger records that cached results of Name depend on EntityType.
// Unresolved triggers were registered without an entity type and are never flushed.
type Trigger struct {
	EntityType string `json:"entity_type"`
	Name       string `json:"name"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

// InvalidationRegistry maps entity types to the cached queries that must be
// dropped when an entity of that type is written.
//
// Flush is fire-and-forget: eviction runs on a bounded worker pool with a
// per-call timeout, and its failures are logged and counted but never
// returned to the writer.
type InvalidationRegistry struct {
	mu       sync.RWMutex
	triggers []Trigger

	evictor  Evictor
	pool     *WorkerPool
	cfg      InvalidationConfig
	inflight sync.WaitGroup
	logger   *zap.SugaredLogger
}

// NewInvalidationRegistry creates a registry that evicts through evictor.
// A nil evictor turns Flush into a no-op. Call Start before the first Flush
// to get pooled dispatch; until then flushes run on detached goroutines.
func NewInvalidationRegistry(ctx context.Context, evictor Evictor, cfg InvalidationConfig, logger *zap.SugaredLogger) *InvalidationRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	def := DefaultInvalidationConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.EvictTimeout <= 0 {
		cfg.EvictTimeout = def.EvictTimeout
	}
	return &InvalidationRegistry{
		evictor: evictor,
		pool:    NewWorkerPool(ctx, cfg.Workers, cfg.QueueSize, "invalidation", logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the flush workers
func (r *InvalidationRegistry) Start() error {
	return r.pool.Start()
}

// Stop waits for queued flushes and stops the workers
func (r *InvalidationRegistry) Stop() {
	r.pool.Stop()
	r.inflight.Wait()
}

// Wait blocks until every dispatched flush has finished
func (r *InvalidationRegistry) Wait() {
	r.inflight.Wait()
}

// RegisterTrigger records that triggerName must be flushed when entityType
// mutates. Duplicates are kept and collapsed at flush time. An empty entity
// type is kept as an unresolved entry and reported as an error. Names failing
// ValidateTriggerName are logged and discarded.
func (r *InvalidationRegistry) RegisterTrigger(entityType, triggerName string) {
	entityType = strings.TrimSpace(entityType)
	if err := ValidateTriggerName(triggerName); err != nil {
		r.logger.Errorw("Cache trigger rejected; name must be non-empty and free of ':'",
			"entity_type", entityType,
			"trigger", triggerName)
		return
	}
	t := Trigger{EntityType: entityType, Name: triggerName, Unresolved: entityType == ""}

	r.mu.Lock()
	r.triggers = append(r.triggers, t)
	r.mu.Unlock()

	if t.Unresolved {
		metrics.UnresolvedTriggers.Inc()
		r.logger.Errorw("Cache trigger registered without entity type; it will never be flushed",
			"trigger", triggerName)
		return
	}
	r.logger.Debugw("Cache trigger registered", "entity_type", entityType, "trigger", triggerName)
}

// TriggersFor returns the distinct trigger names bound to entityType in
// first-registration order.
func (r *InvalidationRegistry) TriggersFor(entityType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, t := range r.triggers {
		if t.Unresolved || t.EntityType != entityType {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		names = append(names, t.Name)
	}
	return names
}

// Triggers returns a copy of every registration, in order
func (r *InvalidationRegistry) Triggers() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Trigger, len(r.triggers))
	copy(result, r.triggers)
	return result
}

// Unresolved returns the registrations that lack an entity type
func (r *InvalidationRegistry) Unresolved() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Trigger
	for _, t := range r.triggers {
		if t.Unresolved {
			result = append(result, t)
		}
	}
	return result
}

// Flush schedules eviction of every trigger bound to entityType and returns
// immediately. Nothing is scheduled when no trigger matches. Flushes that
// cannot run, because the queue is full or the registry's context is done,
// are logged and counted as dropped.
func (r *InvalidationRegistry) Flush(entityType string) {
	if r.evictor == nil {
		metrics.CacheInvalidations.WithLabelValues(entityType, "disabled").Inc()
		return
	}
	triggers := r.TriggersFor(entityType)
	if len(triggers) == 0 {
		metrics.CacheInvalidations.WithLabelValues(entityType, "empty").Inc()
		return
	}

	task := func(ctx context.Context) {
		defer r.inflight.Done()
		if ctx.Err() != nil {
			// queued when the pool's context was cancelled
			metrics.CacheInvalidations.WithLabelValues(entityType, "dropped").Inc()
			r.logger.Warnw("Cache invalidation dropped at shutdown",
				"entity_type", entityType,
				"triggers", triggers,
				"error", ctx.Err())
			return
		}
		if err := r.evict(ctx, entityType, triggers); err != nil {
			r.logger.Warnw("Cache invalidation failed; cached reads may be stale until expiry",
				"entity_type", entityType,
				"triggers", triggers,
				"error", err)
		}
	}

	r.inflight.Add(1)
	var err error
	if r.cfg.SubmitTimeout > 0 {
		err = r.pool.SubmitWithTimeout(task, r.cfg.SubmitTimeout)
	} else {
		err = r.pool.Submit(task)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrWorkerPoolNotRunning):
		goroutine.Go("invalidation-flush", r.logger, func() { task(context.Background()) })
	default:
		r.inflight.Done()
		metrics.CacheInvalidations.WithLabelValues(entityType, "dropped").Inc()
		r.logger.Warnw("Cache invalidation dropped",
			"entity_type", entityType,
			"triggers", triggers,
			"error", err)
	}
}

// FlushSync evicts inline and returns the eviction error. The write path
// should use Flush; FlushSync serves tooling and tests.
func (r *InvalidationRegistry) FlushSync(ctx context.Context, entityType string) error {
	triggers := r.TriggersFor(entityType)
	if len(triggers) == 0 {
		metrics.CacheInvalidations.WithLabelValues(entityType, "empty").Inc()
		return nil
	}
	if r.evictor == nil {
		return ErrNoEvictor
	}
	return r.evict(ctx, entityType, triggers)
}

func (r *InvalidationRegistry) evict(ctx context.Context, entityType string, triggers []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EvictTimeout)
	defer cancel()

	start := time.Now()
	err := r.evictor.Evict(ctx, triggers)
	metrics.CacheEvictionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CacheEvictionFailures.Inc()
		metrics.CacheInvalidations.WithLabelValues(entityType, "error").Inc()
		return &CacheEvictionError{EntityType: entityType, Triggers: triggers, Err: err}
	}
	metrics.CacheInvalidations.WithLabelValues(entityType, "ok").Inc()
	return nil
}
