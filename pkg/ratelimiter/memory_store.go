package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucketState struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	now     func() time.Time

	staleAfter time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval removes buckets idle for longer than staleAfter every
// interval. Zero interval disables the janitor.
func WithCleanupInterval(interval, staleAfter time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.staleAfter = staleAfter
		if interval > 0 {
			go ms.janitor(interval)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.now = now
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		buckets:    make(map[string]*bucketState),
		now:        time.Now,
		staleAfter: time.Hour,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) ConsumeTokens(_ context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	b, ok := ms.buckets[key]
	if !ok {
		b = &bucketState{tokens: config.Capacity, lastRefill: now}
		ms.buckets[key] = b
	}
	b.tokens, b.lastRefill = refill(b.tokens, b.lastRefill, now, config)
	b.lastAccess = now

	remaining := b.tokens - tokens
	if remaining >= 0 {
		b.tokens = remaining
	}

	return remaining, b.lastRefill.Add(config.RefillInterval), nil
}

func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.buckets, key)
	return nil
}

// Close stops the janitor. Safe to call more than once.
func (ms *MemoryStore) Close() {
	ms.stopOnce.Do(func() { close(ms.stop) })
}

func (ms *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.removeStale()
		case <-ms.stop:
			return
		}
	}
}

func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, b := range ms.buckets {
		if now.Sub(b.lastAccess) > ms.staleAfter {
			delete(ms.buckets, key)
		}
	}
}
