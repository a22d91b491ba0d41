// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
)

// usageRetention keeps daily usage counters around long enough for a billing
// export to pick them up.
const usageRetention = 35 * 24 * time.Hour

/*
Recorder tracks per-key usage statistics in the shared store.

Recording is strictly best-effort: usage accounting must NEVER fail or delay
a request that admission already allowed. Errors are logged and dropped.
*/
type Recorder struct {
	store  kvstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a usage recorder over the shared store.
func NewRecorder(store kvstore.Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// UsageStats is one key's accumulated counters for a single day. The average
// is derived from a latency sum held alongside the counters, so any number of
// instances converge on one figure.
type UsageStats struct {
	Day           string `json:"day"`
	Total         int64  `json:"total"`
	Errors        int64  `json:"errors"`
	Limited       int64  `json:"rate_limited"`
	AvgDurationMS int64  `json:"avg_response_ms"`
}

/*
Record accounts one finished request against the key's daily counters.

The context is detached from request cancellation for the same reason as
[Limiter.Release]: accounting for a request that already ran must not be
skipped because the client went away.
*/
func (recorder *Recorder) Record(ctx context.Context, keyID string, statusCode int, elapsed time.Duration) {
	detached := context.WithoutCancel(ctx)
	day := recorder.now().UTC().Format("2006-01-02")

	recorder.incr(detached, recorder.usageKey(keyID, day, "total"))
	if milliseconds := elapsed.Milliseconds(); milliseconds > 0 {
		recorder.incrBy(detached, recorder.usageKey(keyID, day, "duration_ms"), milliseconds)
	}
	if statusCode >= 500 {
		recorder.incr(detached, recorder.usageKey(keyID, day, "errors"))
	}
	if statusCode == 429 {
		recorder.incr(detached, recorder.usageKey(keyID, day, "limited"))
	}
}

// Stats returns the key's counters for the current UTC day.
func (recorder *Recorder) Stats(ctx context.Context, keyID string) (*UsageStats, error) {
	day := recorder.now().UTC().Format("2006-01-02")

	values, err := recorder.store.GetMulti(ctx,
		recorder.usageKey(keyID, day, "total"),
		recorder.usageKey(keyID, day, "errors"),
		recorder.usageKey(keyID, day, "limited"),
		recorder.usageKey(keyID, day, "duration_ms"),
	)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		Day:     day,
		Total:   parseCounter(values[0]),
		Errors:  parseCounter(values[1]),
		Limited: parseCounter(values[2]),
	}
	if stats.Total > 0 {
		stats.AvgDurationMS = parseCounter(values[3]) / stats.Total
	}
	return stats, nil
}

func (recorder *Recorder) incr(ctx context.Context, key string) {
	recorder.incrBy(ctx, key, 1)
}

func (recorder *Recorder) incrBy(ctx context.Context, key string, delta int64) {
	if _, err := recorder.store.IncrByWithTTL(ctx, key, delta, usageRetention); err != nil {
		recorder.logger.Warn("usage counter increment failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func (recorder *Recorder) usageKey(keyID, day, counter string) string {
	return fmt.Sprintf("%s%s:%s:%s", constants.StorePrefixUsage, keyID, day, counter)
}

// parseCounter treats a missing counter as zero.
func parseCounter(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
