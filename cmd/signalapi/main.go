// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command signalapi starts the AleutianSignal forecast API server.
//
// This is the main entry point for the containerized API service. It
// reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - SIGNAL_API_PORT: HTTP server port (default: 12300)
//   - SIGNAL_ARTIFACT_DIR: shared artifact root (default: /data/artifacts)
//   - SIGNAL_STARTUP_TIMEOUT: how long to wait for a complete artifact
//     set before failing (default: 60s)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//     (default: signal-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o signalapi ./cmd/signalapi
//
//	# Run
//	./signalapi
//
//	# Or via container
//	podman-compose up signal-api
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianSignal/services/signal_api"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := signal_api.Config{
		Port:           getEnvInt("SIGNAL_API_PORT", 12300),
		ArtifactDir:    getEnvString("SIGNAL_ARTIFACT_DIR", "/data/artifacts"),
		StartupTimeout: getEnvDuration("SIGNAL_STARTUP_TIMEOUT", 60*time.Second),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "signal-otel-collector:4317"),
	}

	slog.Info("Starting forecast API",
		"port", cfg.Port,
		"artifact_dir", cfg.ArtifactDir,
		"startup_timeout", cfg.StartupTimeout.String(),
	)

	svc, err := signal_api.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create forecast API: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Forecast API error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
