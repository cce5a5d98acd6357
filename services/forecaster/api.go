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
	"net/http"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP surface's dependencies.
type Server struct {
	Refresher *Refresher
	Reader    *artifact.Reader
}

// registerRoutes wires the control endpoints onto the router.
func registerRoutes(router *gin.Engine, server *Server) {
	router.GET("/health", server.handleHealth)
	router.POST("/v1/refresh/trigger", server.handleTriggerRefresh)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// handleHealth reports loop state and whether the published artifact set
// carries a health marker. The marker, not the loop state, is what the
// stack validator and downstream consumers trust.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "signal-forecaster",
		"state":   s.Refresher.State().String(),
		"healthy": s.Reader.Healthy(),
	})
}

// handleTriggerRefresh schedules an out-of-band iteration. The iteration
// runs on the loop goroutine, so triggers never overlap a timed run.
func (s *Server) handleTriggerRefresh(c *gin.Context) {
	if !s.Refresher.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Refresh loop is not running"})
		return
	}
	if !s.Refresher.TriggerRefresh() {
		c.JSON(http.StatusConflict, gin.H{"status": "busy", "state": s.Refresher.State().String()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}
