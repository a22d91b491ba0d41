// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements [Store] with an in-process map.
//
// # Usage
//
// Intended for tests and single-node development mode. A single mutex guards
// every operation, which gives the same atomicity guarantees as the Lua
// scripts in [RedisStore] — at the cost of not being shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store with an injectable clock.
// Tests use this to roll windows forward without sleeping.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get returns the value for key, or [ErrNotFound].
func (store *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// GetMulti returns the values for the given keys; missing keys yield "".
func (store *MemoryStore) GetMulti(ctx context.Context, keys ...string) ([]string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	values := make([]string, len(keys))
	for i, key := range keys {
		if entry, ok := store.lookup(key); ok {
			values[i] = entry.value
		}
	}
	return values, nil
}

// SetWithTTL stores value under key with the given expiry.
func (store *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.entries[key] = memoryEntry{value: value, expiresAt: store.expiry(ttl)}
	return nil
}

// SetIfAbsentWithTTL stores value only if key does not already exist.
func (store *MemoryStore) SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.lookup(key); ok {
		return false, nil
	}
	store.entries[key] = memoryEntry{value: value, expiresAt: store.expiry(ttl)}
	return true, nil
}

// IncrWithTTL increments the counter, stamping the TTL on first touch.
func (store *MemoryStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.incrByLocked(key, 1, ttl), nil
}

// IncrByWithTTL adds delta to the counter, stamping the TTL on first touch.
func (store *MemoryStore) IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.incrByLocked(key, delta, ttl), nil
}

// Decr decrements the counter, floored at zero.
func (store *MemoryStore) Decr(ctx context.Context, key string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.lookup(key)
	current := int64(0)
	if ok {
		current, _ = strconv.ParseInt(entry.value, 10, 64)
	}

	current--
	if current < 0 {
		current = 0
	}

	store.entries[key] = memoryEntry{value: strconv.FormatInt(current, 10), expiresAt: entry.expiresAt}
	return current, nil
}

// Delete removes key.
func (store *MemoryStore) Delete(ctx context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.entries, key)
	return nil
}

// CompareAndSwap replaces the value if it still equals expected.
func (store *MemoryStore) CompareAndSwap(ctx context.Context, key, expected, replacement string, ttl time.Duration) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.lookup(key)
	if !ok || entry.value != expected {
		return false, nil
	}

	store.entries[key] = memoryEntry{value: replacement, expiresAt: store.expiry(ttl)}
	return true, nil
}

// Reserve executes the multi-window check-then-increment under the store lock.
func (store *MemoryStore) Reserve(ctx context.Context, request ReserveRequest) (*ReserveResult, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	result := &ReserveResult{
		Allowed:      true,
		WindowCounts: make([]int64, len(request.Windows)),
	}

	// Check phase: read every counter before touching any of them.
	for i, window := range request.Windows {
		count := store.counterLocked(window.Key)
		result.WindowCounts[i] = count
		if count >= window.Limit {
			result.Allowed = false
		}
	}

	result.ConcurrentCount = store.counterLocked(request.ConcurrencyKey)
	if result.ConcurrentCount >= request.ConcurrencyLimit {
		result.Allowed = false
	}

	if !result.Allowed {
		return result, nil
	}

	// Increment phase: all-or-nothing under the same lock.
	for i, window := range request.Windows {
		result.WindowCounts[i] = store.incrByLocked(window.Key, 1, window.TTL)
	}
	result.ConcurrentCount = store.incrByLocked(request.ConcurrencyKey, 1, 0)

	return result, nil
}

// # Internal helpers (callers must hold store.mu)

// lookup returns the live entry for key, pruning it if expired.
func (store *MemoryStore) lookup(key string) (memoryEntry, bool) {
	entry, ok := store.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !store.now().Before(entry.expiresAt) {
		delete(store.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// counterLocked reads a counter value, treating missing keys as zero.
func (store *MemoryStore) counterLocked(key string) int64 {
	entry, ok := store.lookup(key)
	if !ok {
		return 0
	}
	value, _ := strconv.ParseInt(entry.value, 10, 64)
	return value
}

// incrByLocked adds delta to a counter, stamping the TTL only on first touch.
func (store *MemoryStore) incrByLocked(key string, delta int64, ttl time.Duration) int64 {
	entry, ok := store.lookup(key)
	if !ok {
		store.entries[key] = memoryEntry{value: strconv.FormatInt(delta, 10), expiresAt: store.expiry(ttl)}
		return delta
	}

	value, _ := strconv.ParseInt(entry.value, 10, 64)
	value += delta
	entry.value = strconv.FormatInt(value, 10)
	store.entries[key] = entry
	return value
}

// expiry converts a TTL into an absolute deadline; zero TTL means no expiry.
func (store *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return store.now().Add(ttl)
}
