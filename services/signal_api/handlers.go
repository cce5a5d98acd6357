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
	"net/http"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/AleutianAI/AleutianSignal/pkg/validation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires the read-only forecast endpoints.
func (s *service) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/forecasts/latest", s.handleLatestForecasts)
		v1.GET("/series/:series", s.handleSeries)
		v1.GET("/history", s.handleHistory)
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// handleHealth reports readiness: a resolvable current version with
// every required export present. The health marker is deliberately not
// part of readiness; the API keeps serving the prior good set while the
// forecaster recovers.
func (s *service) handleHealth(c *gin.Context) {
	missing, err := s.reader.MissingExports()
	if err != nil {
		// No current version resolves, so every export is missing.
		missing = artifact.RequiredExports()
	}

	ready := len(missing) == 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"service":         "signal-api",
		"ready":           ready,
		"missing_exports": missing,
	})
}

// handleLatestForecasts serves the live forecast set. Each request
// re-resolves the current symlink, so a publish flips responses without
// a restart.
func (s *service) handleLatestForecasts(c *gin.Context) {
	set, err := s.reader.ReadForecasts()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Forecasts unavailable", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, set)
}

// handleSeries serves one series' forecast with its observation rows.
func (s *service) handleSeries(c *gin.Context) {
	sanitized, err := validation.SanitizeSeries(c.Param("series"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid series", "details": err.Error()})
		return
	}

	set, err := s.reader.ReadForecasts()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Forecasts unavailable", "details": err.Error()})
		return
	}

	var found *artifact.Forecast
	for i := range set.Forecasts {
		if set.Forecasts[i].Series == sanitized {
			found = &set.Forecasts[i]
			break
		}
	}
	if found == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown series", "series": sanitized})
		return
	}

	history, err := s.reader.ReadHistory()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History unavailable", "details": err.Error()})
		return
	}
	var observations []artifact.Observation
	for _, obs := range history {
		if obs.Series == sanitized {
			observations = append(observations, obs)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"series":       sanitized,
		"forecast":     found,
		"observations": observations,
		"count":        len(observations),
	})
}

// handleHistory serves the full observation window backing the live set.
func (s *service) handleHistory(c *gin.Context) {
	history, err := s.reader.ReadHistory()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History unavailable", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":        len(history),
		"observations": history,
	})
}
