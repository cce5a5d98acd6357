// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RefreshState labels the refresh loop's lifecycle. Exported as a gauge
// so dashboards can alert on a loop stuck in Failed.
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
	StatePublished
	StateFailed
)

// String returns the lowercase state name used in logs and /health.
func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	metricRefreshIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_forecaster_refresh_iterations_total",
		Help: "Refresh iterations attempted, successful or not.",
	})

	metricRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_forecaster_refresh_failures_total",
		Help: "Refresh iterations that failed and kept the prior artifact set.",
	})

	metricLastPublish = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_forecaster_last_publish_timestamp_seconds",
		Help: "Unix time of the most recent successful publish.",
	})

	metricRefreshState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_forecaster_refresh_state",
		Help: "Refresh loop state (0=idle, 1=refreshing, 2=published, 3=failed).",
	})

	metricRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_forecaster_refresh_duration_seconds",
		Help:    "Wall time of successful refresh iterations.",
		Buckets: prometheus.DefBuckets,
	})

	metricObservationsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_forecaster_observations_fetched_total",
		Help: "New observations fetched and stored, by series.",
	}, []string{"series"})
)

func init() {
	prometheus.MustRegister(
		metricRefreshIterations,
		metricRefreshFailures,
		metricLastPublish,
		metricRefreshState,
		metricRefreshDuration,
		metricObservationsFetched,
	)
}
