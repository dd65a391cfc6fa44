// Package cache stores full assistant responses keyed by normalized query and
// tenant, short-circuiting LLM calls for repeated questions.
package cache

import (
	"context"
	"sync"
	"time"
)

// KV is the key-value store behind the response cache. TTL expiry is owned by
// the store; Get on a missing or expired key returns ok=false, nil error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryKV is an in-process KV with TTL and max-size pruning.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	maxSize int
}

type memoryEntry struct {
	value     []byte
	expiresAt int64 // unix millis, 0 = no expiry
}

// NewMemoryKV creates an in-memory KV holding at most maxSize entries
// (0 = unbounded).
func NewMemoryKV(maxSize int) *MemoryKV {
	if maxSize < 0 {
		maxSize = 0
	}
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
	}
}

// Get returns the value for key if present and unexpired.
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expiresAt > 0 && time.Now().UnixMilli() >= e.expiresAt {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL (<= 0 means no expiry).
func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	m.prune()
	return nil
}

// Delete removes key if present.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// prune drops expired entries, then oldest-expiring entries past maxSize.
// Must be called with the mutex held.
func (m *MemoryKV) prune() {
	now := time.Now().UnixMilli()
	for k, e := range m.entries {
		if e.expiresAt > 0 && now >= e.expiresAt {
			delete(m.entries, k)
		}
	}
	if m.maxSize <= 0 {
		return
	}
	for len(m.entries) > m.maxSize {
		var victim string
		var soonest int64 = int64(^uint64(0) >> 1)
		for k, e := range m.entries {
			exp := e.expiresAt
			if exp == 0 {
				exp = soonest - 1
			}
			if exp < soonest {
				soonest = exp
				victim = k
			}
		}
		if victim == "" {
			break
		}
		delete(m.entries, victim)
	}
}
