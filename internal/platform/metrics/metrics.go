// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package metrics registers the Prometheus instruments exposed on /metrics.

Instruments are package-level and registered once via promauto; handlers and
middleware record into them directly. Label cardinality is kept deliberately
low: route patterns (not raw paths), status classes, tiers, and taxonomy
codes only.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration observes end-to-end handler latency per route pattern.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentra",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern, method and status class.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"route", "method", "status"})

	// RequestsInFlight gauges currently executing requests.
	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentra",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being served.",
	})

	// TokenValidations counts access-token checks by taxonomy outcome.
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Subsystem: "token",
		Name:      "validations_total",
		Help:      "Access token validations by outcome code (ok or taxonomy code).",
	}, []string{"outcome"})

	// AdmissionDecisions counts rate-limit decisions by tier and outcome.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by API key tier and outcome.",
	}, []string{"tier", "outcome"})

	// CSRFRejections counts CSRF failures by taxonomy code.
	CSRFRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Subsystem: "admission",
		Name:      "csrf_rejections_total",
		Help:      "CSRF validation failures by taxonomy code.",
	}, []string{"code"})
)
