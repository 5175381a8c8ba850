package cache

import (
	"context"
	"slices"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store backed by an LRUCache with per-entry TTL.
// Expired entries are dropped lazily on read.
type MemoryStore struct {
	lru *LRUCache[string, memoryEntry]
	now func() time.Time
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		lru: NewLRUCache[string, memoryEntry](capacity),
		now: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, ErrMiss
	}
	return slices.Clone(e.value), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.lru.Put(key, e)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}
