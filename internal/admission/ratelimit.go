// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
)

/*
Limiter enforces tier-based rate limits on API-key traffic.

# Atomicity

A single admission decision spans four counters (minute, hour, day,
concurrency). The limiter never reads-then-writes across store round trips;
it hands the whole set to [kvstore.Store.Reserve], which checks every limit
before incrementing any counter. Two racing requests on the last available
slot therefore cannot both be admitted, no matter how many instances run.

# Windows

Windows are fixed buckets keyed by truncated timestamp, so a window resets
for everyone at the same instant. Counter keys expire with their window plus
slack; abandoned keys clean themselves up.
*/
type Limiter struct {
	store  kvstore.Store
	logger *slog.Logger

	// now is injectable so tests can cross window boundaries.
	now func() time.Time
}

// NewLimiter creates a rate limiter over the shared store.
func NewLimiter(store kvstore.Store, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Decision is the outcome of one admission check, carrying everything the
// HTTP layer needs for the X-RateLimit response headers.
type Decision struct {
	Allowed bool

	// Limit and Remaining describe the minute window, the one clients see.
	Limit     int64
	Remaining int64

	// ResetAt is when the minute window rolls over.
	ResetAt time.Time

	// RetryAfter is how long a denied caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

/*
CheckAndReserve decides admission for one request on the given API key.

On an allowed decision every counter has already been incremented; the caller
MUST pair it with [Limiter.Release] once the request finishes, or the
concurrency slot leaks until process restart is no help — the slot lives in
the shared store.

Returns:
  - *Decision: Always populated when err is nil, including denials.
  - error: STORE_UNAVAILABLE when the shared store cannot answer (fail closed).
*/
func (limiter *Limiter) CheckAndReserve(ctx context.Context, key *identity.ApiKey) (*Decision, error) {
	limits := LimitsForTier(key.Tier)
	currentTime := limiter.now()

	request := kvstore.ReserveRequest{
		Windows: []kvstore.WindowReservation{
			{Key: limiter.windowKey(key.ID, "m", currentTime), Limit: limits.PerMinute, TTL: windowTTL(time.Minute)},
			{Key: limiter.windowKey(key.ID, "h", currentTime), Limit: limits.PerHour, TTL: windowTTL(time.Hour)},
			{Key: limiter.windowKey(key.ID, "d", currentTime), Limit: limits.PerDay, TTL: windowTTL(24 * time.Hour)},
		},
		ConcurrencyKey:   constants.StorePrefixConcurrent + key.ID,
		ConcurrencyLimit: limits.Concurrent,
	}

	result, err := limiter.store.Reserve(ctx, request)
	if err != nil {
		limiter.logger.Error("rate limit store unreachable; failing closed",
			slog.String("key_id", key.ID),
			slog.Any("error", err),
		)
		return nil, apperr.StoreUnavailable(err)
	}

	decision := &Decision{
		Allowed: result.Allowed,
		Limit:   limits.PerMinute,
		ResetAt: currentTime.Truncate(time.Minute).Add(time.Minute),
	}

	minuteCount := result.WindowCounts[0]
	decision.Remaining = limits.PerMinute - minuteCount
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if !result.Allowed {
		decision.RetryAfter = limiter.retryAfter(limits, result, currentTime)
	}

	return decision, nil
}

/*
Release frees the concurrency slot taken by an allowed decision.

The passed context is detached from request cancellation: a client that
disconnects mid-request must still have its slot returned, or slots drain
away one abandoned request at a time.
*/
func (limiter *Limiter) Release(ctx context.Context, keyID string) {
	detached := context.WithoutCancel(ctx)

	if _, err := limiter.store.Decr(detached, constants.StorePrefixConcurrent+keyID); err != nil {
		limiter.logger.Error("failed to release concurrency slot",
			slog.String("key_id", keyID),
			slog.Any("error", err),
		)
	}
}

// retryAfter finds the soonest window rollover among the exceeded limits.
// A concurrency denial has no natural rollover; callers get a short fixed
// backoff instead.
func (limiter *Limiter) retryAfter(limits Limits, result *kvstore.ReserveResult, currentTime time.Time) time.Duration {
	perWindowLimits := []int64{limits.PerMinute, limits.PerHour, limits.PerDay}

	for index, windowSpec := range windows {
		if result.WindowCounts[index] >= perWindowLimits[index] {
			rollover := currentTime.Truncate(windowSpec.size).Add(windowSpec.size)
			return rollover.Sub(currentTime)
		}
	}

	// Concurrency limit. In-flight requests finish in seconds, not windows.
	return time.Second
}

// windowKey builds "admission:ratelimit:<keyID>:<label>:<bucket>" where the
// bucket is the window-truncated unix timestamp.
func (limiter *Limiter) windowKey(keyID, label string, currentTime time.Time) string {
	var size time.Duration
	for _, windowSpec := range windows {
		if windowSpec.label == label {
			size = windowSpec.size
			break
		}
	}
	bucket := currentTime.Truncate(size).Unix()
	return fmt.Sprintf("%s%s:%s:%d", constants.StorePrefixRateLimit, keyID, label, bucket)
}

// windowTTL pads the window so a counter outlives its bucket long enough for
// clock skew between instances, then expires.
func windowTTL(size time.Duration) time.Duration {
	return size + 10*time.Second
}
