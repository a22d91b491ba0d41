// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package admission decides whether an otherwise-valid request may proceed:
rate limiting for machine credentials and CSRF protection for browser
sessions.

Architecture:

  - Limiter: Tier-based multi-window rate limiter. All counters live in the
    shared store, so the limits hold across every instance; the
    check-then-increment runs atomically inside the store.
  - Recorder: Best-effort usage accounting per API key.
  - CSRF: Stateless HMAC double-submit tokens bound to a session.

Failure policy: the limiter FAILS CLOSED. If the shared store cannot answer,
the request is rejected with 503 rather than admitted unmetered; an outage
must not become an open gate.
*/
package admission

import (
	"time"

	"github.com/sentra-id/sentra/internal/identity"
)

// # Tier Limits

// Limits is the full rate profile of one tier. A request must have headroom
// in EVERY window plus a free concurrency slot to be admitted.
type Limits struct {
	PerMinute  int64
	PerHour    int64
	PerDay     int64
	Concurrent int64
}

// tierLimits maps each API-key tier to its profile. The minute window is the
// one surfaced in X-RateLimit headers; hour and day windows backstop
// sustained abuse that stays under the minute limit.
var tierLimits = map[identity.Tier]Limits{
	identity.TierFree:       {PerMinute: 60, PerHour: 1_000, PerDay: 10_000, Concurrent: 5},
	identity.TierPremium:    {PerMinute: 600, PerHour: 20_000, PerDay: 200_000, Concurrent: 25},
	identity.TierEnterprise: {PerMinute: 6_000, PerHour: 200_000, PerDay: 2_000_000, Concurrent: 100},
}

// LimitsForTier returns the rate profile for a tier. Unknown tiers get the
// free profile: misconfiguration must narrow access, never widen it.
func LimitsForTier(tier identity.Tier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[identity.TierFree]
}

// # Windows

// window pairs a bucket label with its duration.
type window struct {
	label string
	size  time.Duration
}

var windows = []window{
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}
