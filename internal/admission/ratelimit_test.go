// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
	"github.com/sentra-id/sentra/pkg/uuid"
)

// movableClock lets tests cross window boundaries deterministically.
type movableClock struct {
	mu      sync.Mutex
	current time.Time
}

func (clock *movableClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.current
}

func (clock *movableClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *movableClock) {
	t.Helper()

	clock := &movableClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemoryStoreWithClock(clock.Now)
	limiter := NewLimiter(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	limiter.now = clock.Now
	return limiter, clock
}

func testKey(tier identity.Tier) *identity.ApiKey {
	return &identity.ApiKey{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Tier:     tier,
		IsActive: true,
	}
}

// # Window Limits

func TestCheckAndReserve_MinuteBoundary(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	key := testKey(identity.TierFree)
	limit := LimitsForTier(identity.TierFree).PerMinute

	// Exhaust the minute window exactly. Each admitted request releases its
	// concurrency slot, so only the windowed counters accumulate.
	for i := int64(0); i < limit; i++ {
		decision, err := limiter.CheckAndReserve(ctx, key)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d within the limit must pass", i+1)
		assert.Equal(t, limit-i-1, decision.Remaining)
		limiter.Release(ctx, key.ID)
	}

	// One past the limit is denied and the counter stays put.
	denied, err := limiter.CheckAndReserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, int64(0), denied.Remaining)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, denied.RetryAfter, time.Minute)

	// The denial itself must not have consumed anything: after the window
	// rolls over, the full budget is back.
	clock.Advance(time.Minute)

	decision, err := limiter.CheckAndReserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, limit-1, decision.Remaining)
	limiter.Release(ctx, key.ID)
}

func TestCheckAndReserve_HourWindowBackstopsMinuteWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	key := testKey(identity.TierFree)
	limits := LimitsForTier(identity.TierFree)

	// Fill the whole hour budget by walking minute windows.
	admitted := int64(0)
	for admitted < limits.PerHour {
		decision, err := limiter.CheckAndReserve(ctx, key)
		require.NoError(t, err)
		if !decision.Allowed {
			clock.Advance(time.Minute)
			continue
		}
		limiter.Release(ctx, key.ID)
		admitted++
	}

	// Fresh minute, exhausted hour: still denied, and the wait is the hour
	// rollover, not the minute one.
	clock.Advance(time.Minute)
	denied, err := limiter.CheckAndReserve(ctx, key)
	require.NoError(t, err)
	require.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Minute)
}

func TestCheckAndReserve_TiersAreIndependentPerKey(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	free := testKey(identity.TierFree)
	premium := testKey(identity.TierPremium)

	// Exhaust the free key's minute budget.
	for i := int64(0); i < LimitsForTier(identity.TierFree).PerMinute; i++ {
		decision, err := limiter.CheckAndReserve(ctx, free)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		limiter.Release(ctx, free.ID)
	}
	denied, err := limiter.CheckAndReserve(ctx, free)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	// The premium key is untouched.
	decision, err := limiter.CheckAndReserve(ctx, premium)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, LimitsForTier(identity.TierPremium).PerMinute-1, decision.Remaining)
	limiter.Release(ctx, premium.ID)
}

// # Concurrency Slots

func TestCheckAndReserve_ConcurrencyConservation(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	key := testKey(identity.TierFree)
	slots := LimitsForTier(identity.TierFree).Concurrent

	const attempts = 40

	var admitted atomic.Int64
	var waitGroup sync.WaitGroup

	// A wave of concurrent requests that all hold their slot until the whole
	// wave has been decided. Admissions must never exceed the slot count.
	release := make(chan struct{})
	for i := 0; i < attempts; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			decision, err := limiter.CheckAndReserve(ctx, key)
			if err != nil || !decision.Allowed {
				return
			}
			admitted.Add(1)
			<-release
			limiter.Release(ctx, key.ID)
		}()
	}

	// Wait for every goroutine to reach its decision point.
	for admitted.Load() < slots {
		time.Sleep(time.Millisecond)
	}
	close(release)
	waitGroup.Wait()

	assert.Equal(t, slots, admitted.Load(), "admissions must equal the slot count exactly")

	// Every slot was returned: the full concurrency budget is available again.
	decision, err := limiter.CheckAndReserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	limiter.Release(ctx, key.ID)
}

func TestRelease_SurvivesCancelledContext(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	key := testKey(identity.TierFree)

	ctx, cancel := context.WithCancel(context.Background())
	decision, err := limiter.CheckAndReserve(ctx, key)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Client disconnects; the slot must still come back.
	cancel()
	limiter.Release(ctx, key.ID)

	slots := LimitsForTier(identity.TierFree).Concurrent
	admittedNow := int64(0)
	for i := int64(0); i < slots; i++ {
		followUp, err := limiter.CheckAndReserve(context.Background(), key)
		require.NoError(t, err)
		if followUp.Allowed {
			admittedNow++
		}
	}
	assert.Equal(t, slots, admittedNow, "all slots must be available after release")
}

// # Failure Policy

// failingStore simulates a store outage on every operation.
type failingStore struct {
	kvstore.Store
}

func (failingStore) Reserve(context.Context, kvstore.ReserveRequest) (*kvstore.ReserveResult, error) {
	return nil, errors.New("connection refused")
}

func TestCheckAndReserve_FailsClosedOnStoreOutage(t *testing.T) {
	limiter := NewLimiter(failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := limiter.CheckAndReserve(context.Background(), testKey(identity.TierEnterprise))
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, "STORE_UNAVAILABLE"), "got %v", err)
}

// # Tier Profiles

func TestLimitsForTier_UnknownTierGetsFreeProfile(t *testing.T) {
	assert.Equal(t, LimitsForTier(identity.TierFree), LimitsForTier(identity.Tier("mystery")))
}
