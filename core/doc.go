// Package core holds the entity lifecycle primitives shared by every entity
// type the service manages.
//
// # Components
//
//   - IdentifierRegistry allocates prefixed, zero-padded sequential IDs and
//     answers lookups by prefix or by entity type.
//   - Machine and TransitionEngine resolve (state, action) pairs against
//     declarative edge tables. Unmatched pairs are no-ops unless the engine
//     runs in strict mode.
//   - InvalidationRegistry maps entity types to cache trigger names and
//     flushes them on a bounded worker pool after every successful write.
//
// # Caches
//
// Evictor is the only thing the invalidation side needs from a cache.
// RedisCache, MemoryCache and NoopCache implement the wider QueryCache
// interface used by the service read path. BreakingEvictor puts a
// CircuitBreaker in front of any Evictor.
//
// # Concurrency
//
// All registries are safe for concurrent use. Registration is expected to
// happen during startup; lookups and allocation happen on the request path.
package core
