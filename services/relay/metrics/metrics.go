// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics holds the relay's Prometheus instrumentation.
//
// Counters carry device-agnostic labels only; the device id is high
// cardinality and never becomes a label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for AnalysisRequests.
const (
	OutcomeAnalyzed    = "analyzed"
	OutcomeNotFood     = "not_food"
	OutcomeRateLimited = "rate_limited"
	OutcomeDuplicate   = "duplicate"
	OutcomeRejected    = "rejected"
	OutcomeUpstreamErr = "upstream_error"
)

// Metrics bundles the relay's instruments. Construct once at the
// composition root and pass down; nothing here is package-global so tests
// can register against their own registry.
type Metrics struct {
	// AnalysisRequests counts analyze calls by outcome.
	AnalysisRequests *prometheus.CounterVec

	// AnalysisDuration observes end-to-end analyze latency, including
	// upstream model time.
	AnalysisDuration prometheus.Histogram

	// UpstreamFailures counts classified upstream errors by kind.
	UpstreamFailures *prometheus.CounterVec
}

// New registers the relay's instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AnalysisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aperioesca",
			Subsystem: "relay",
			Name:      "analysis_requests_total",
			Help:      "Analyze requests by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aperioesca",
			Subsystem: "relay",
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analyze latency including upstream model time.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aperioesca",
			Subsystem: "relay",
			Name:      "upstream_failures_total",
			Help:      "Classified upstream analysis failures by kind.",
		}, []string{"kind"}),
	}
}
