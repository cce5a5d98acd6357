// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signal_api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_api_requests_total",
			Help: "HTTP requests served, by route template and status code.",
		},
		[]string{"route", "status"},
	)

	metricRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_api_request_duration_seconds",
			Help:    "HTTP request latency, by route template.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(metricRequests, metricRequestDuration)
}

// requestMetrics observes every request under its route template, so
// path parameters never explode label cardinality.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		metricRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
