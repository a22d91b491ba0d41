// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package kvstore defines the shared atomic store contract that every service
instance uses for volatile trust-boundary state.

It abstracts the counter, blacklist, and compare-and-swap primitives so that
domain services (token lifecycle, admission control) never talk to Redis
directly and tests can run against the in-memory implementation.

Architecture:

  - Store: The primitive contract (get/set/incr/CAS/reserve).
  - RedisStore: Production implementation; multi-key operations execute as a
    single Lua round trip so check-then-act sequences cannot interleave.
  - MemoryStore: Mutex-guarded implementation for tests and single-node dev.

No caller may hold an in-process lock across a Store round trip; the store
itself is the single source of truth for concurrency correctness.
*/
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kvstore: key not found")

// # Atomic Reservation Types

// WindowReservation describes one time-windowed counter inside a reservation.
type WindowReservation struct {
	// Key is the fully qualified counter key, including the window bucket.
	Key string
	// Limit is the maximum value the counter may reach within the window.
	Limit int64
	// TTL is the window size; the counter key expires with its window.
	TTL time.Duration
}

// ReserveRequest is an atomic multi-counter check-then-increment.
//
// # Atomicity
//
// All windows plus the concurrency slot are checked BEFORE any of them is
// incremented, and the whole sequence executes as one atomic unit in the
// store. Two concurrent reservations can therefore never both observe
// "allowed" on the last remaining slot.
type ReserveRequest struct {
	// Windows are the time-bucketed counters (e.g. minute/hour/day).
	Windows []WindowReservation

	// ConcurrencyKey counts in-flight requests; not time-windowed. The caller
	// must pair every successful reservation with a [Store.Decr].
	ConcurrencyKey string

	// ConcurrencyLimit is the maximum number of simultaneous holders.
	ConcurrencyLimit int64
}

// ReserveResult reports the outcome of a [Store.Reserve] call.
type ReserveResult struct {
	// Allowed is true when every limit had headroom and all counters were
	// incremented. When false, no counter was touched.
	Allowed bool

	// WindowCounts holds the post-increment (or, when denied, current) value
	// of each windowed counter, in request order.
	WindowCounts []int64

	// ConcurrentCount is the post-increment (or current) in-flight count.
	ConcurrentCount int64
}

// # Store Contract

// Store is the shared atomic key-value store reachable by every instance.
//
// All operations take a context and are the only suspension points in the
// trust boundary. Implementations must be safe for concurrent use.
type Store interface {

	// Get returns the value for key, or [ErrNotFound].
	Get(ctx context.Context, key string) (string, error)

	// GetMulti returns the values for the given keys in order; missing keys
	// yield an empty string rather than an error.
	GetMulti(ctx context.Context, keys ...string) ([]string, error)

	// SetWithTTL stores value under key with the given expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsentWithTTL stores value only if key does not exist.
	// Returns true if the value was stored.
	SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrWithTTL atomically increments the counter at key, setting the TTL
	// on first touch. Returns the post-increment value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrByWithTTL is [Store.IncrWithTTL] with an arbitrary positive delta,
	// used for accumulating sums rather than counting events.
	IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Decr atomically decrements the counter at key, floored at zero.
	// Returns the post-decrement value.
	Decr(ctx context.Context, key string) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap atomically replaces the value at key with replacement if
	// the current value equals expected, refreshing the TTL. Returns true on
	// success; false means another writer won the race or the key changed.
	CompareAndSwap(ctx context.Context, key, expected, replacement string, ttl time.Duration) (bool, error)

	// Reserve executes an atomic multi-window check-then-increment.
	Reserve(ctx context.Context, request ReserveRequest) (*ReserveResult, error)
}
