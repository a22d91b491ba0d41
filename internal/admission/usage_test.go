// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-id/sentra/internal/platform/kvstore"
)

func TestRecorder(t *testing.T) {
	store := kvstore.NewMemoryStore()
	recorder := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	recorder.Record(ctx, "key-1", 200, 40*time.Millisecond)
	recorder.Record(ctx, "key-1", 200, 80*time.Millisecond)
	recorder.Record(ctx, "key-1", 502, 120*time.Millisecond)
	recorder.Record(ctx, "key-1", 429, 0)
	recorder.Record(ctx, "key-2", 200, 10*time.Millisecond)

	stats, err := recorder.Stats(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(1), stats.Limited)
	assert.Equal(t, int64(60), stats.AvgDurationMS, "(40+80+120+0)/4")

	other, err := recorder.Stats(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Total)
	assert.Equal(t, int64(0), other.Errors)
	assert.Equal(t, int64(10), other.AvgDurationMS)
}

func TestRecorder_NoTrafficHasZeroAverage(t *testing.T) {
	store := kvstore.NewMemoryStore()
	recorder := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stats, err := recorder.Stats(context.Background(), "key-unseen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, int64(0), stats.AvgDurationMS)
}

func TestRecorder_StoreOutageDoesNotPanic(t *testing.T) {
	recorder := NewRecorder(failingIncrStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Best-effort accounting: errors are swallowed.
	recorder.Record(context.Background(), "key-1", 200, 25*time.Millisecond)
}

type failingIncrStore struct {
	kvstore.Store
}

func (failingIncrStore) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingIncrStore) IncrByWithTTL(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
