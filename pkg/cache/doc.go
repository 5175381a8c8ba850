// Package cache is the key/value cache capability used for read-side
// projections: the plan catalog and the per-user current subscription.
//
// Two Store implementations exist. RedisStore is shared by every API replica
// so an eviction on one replica is visible to all. MemoryStore keeps entries
// in a bounded LRU with per-entry TTL and suits single-process deployments and
// tests.
//
// Stores hold raw bytes. Callers own serialization.
package cache
