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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/AleutianAI/AleutianSignal/pkg/validation"
	"github.com/gin-gonic/gin"
)

// Runtime configuration from environment
var (
	artifactDir     = os.Getenv("SIGNAL_ARTIFACT_DIR")
	storeDir        = os.Getenv("SIGNAL_STORE_DIR")
	refreshInterval = os.Getenv("SIGNAL_REFRESH_INTERVAL")
	seriesList      = os.Getenv("SIGNAL_SERIES")
	upstreamURL     = os.Getenv("SIGNAL_UPSTREAM_URL")
	upstreamRPS     = os.Getenv("SIGNAL_UPSTREAM_RPS")
	horizonDays     = os.Getenv("SIGNAL_HORIZON_DAYS")
	historyDays     = os.Getenv("SIGNAL_HISTORY_DAYS")
	mirrorBucket    = os.Getenv("SIGNAL_MIRROR_BUCKET")
	mirrorPrefix    = os.Getenv("SIGNAL_MIRROR_PREFIX")
	gcsKeyPath      = os.Getenv("SIGNAL_GCS_KEY_PATH")
)

var errEmptySeriesList = errors.New("series list is empty")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Set defaults if not provided
	if artifactDir == "" {
		artifactDir = "/data/artifacts"
	}
	if storeDir == "" {
		storeDir = "/data/store"
	}
	if seriesList == "" {
		seriesList = "SPY,QQQ,GLD"
	}
	if mirrorPrefix == "" {
		mirrorPrefix = "signal-artifacts"
	}

	config := DefaultRefresherConfig()
	if refreshInterval != "" {
		interval, err := time.ParseDuration(refreshInterval)
		if err != nil || interval <= 0 {
			slog.Error("Invalid SIGNAL_REFRESH_INTERVAL", "value", refreshInterval, "error", err)
			os.Exit(1)
		}
		config.Interval = interval
	}
	config.HorizonDays = envInt("SIGNAL_HORIZON_DAYS", horizonDays, config.HorizonDays)
	config.HistoryDays = envInt("SIGNAL_HISTORY_DAYS", historyDays, config.HistoryDays)

	series, err := parseSeriesList(seriesList)
	if err != nil {
		slog.Error("Invalid SIGNAL_SERIES", "value", seriesList, "error", err)
		os.Exit(1)
	}
	config.Series = series

	slog.Info("Starting Signal Forecaster",
		"artifact_dir", artifactDir,
		"store_dir", storeDir,
		"interval", config.Interval.String(),
		"series", strings.Join(config.Series, ","),
		"upstream", upstreamMode(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := OpenObservationStore(DefaultStoreConfig(storeDir))
	if err != nil {
		slog.Error("Failed to open observation store", "path", storeDir, "error", err)
		os.Exit(1)
	}

	publisher, err := artifact.NewPublisher(artifactDir)
	if err != nil {
		slog.Error("Failed to prepare artifact root", "path", artifactDir, "error", err)
		store.Close()
		os.Exit(1)
	}

	fetcher, err := buildFetcher(store)
	if err != nil {
		slog.Error("Failed to configure fetcher", "error", err)
		store.Close()
		os.Exit(1)
	}

	var mirror *SnapshotMirror
	if mirrorBucket != "" {
		mirror, err = NewSnapshotMirror(ctx, mirrorBucket, mirrorPrefix, gcsKeyPath)
		if err != nil {
			// Mirroring is an optional replica; a misconfigured bucket
			// must not keep the local stack from serving.
			slog.Warn("Snapshot mirror disabled", "bucket", mirrorBucket, "error", err)
			mirror = nil
		} else {
			defer mirror.Close()
			slog.Info("Snapshot mirror enabled", "bucket", mirrorBucket, "prefix", mirrorPrefix)
		}
	}

	if err := SeedPublished(ctx, store, publisher, config.HorizonDays); err != nil {
		slog.Error("Failed to establish startup snapshot", "error", err)
		store.Close()
		os.Exit(1)
	}

	refresher := NewRefresher(fetcher, store, publisher, mirror, config)
	if err := refresher.Start(ctx); err != nil {
		slog.Error("Failed to start refresh loop", "error", err)
		store.Close()
		os.Exit(1)
	}

	server := &Server{
		Refresher: refresher,
		Reader:    artifact.NewReader(artifactDir),
	}

	router := gin.Default()
	registerRoutes(router, server)

	port := os.Getenv("PORT")
	if port == "" {
		port = "12320"
	}

	slog.Info("Starting forecaster API server", "port", port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(":" + port)
	}()

	select {
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
		shutdown(refresher, store)
		os.Exit(1)
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdown(refresher, store)
	}
}

// shutdown stops the loop, closes the store, and wipes locked secrets.
func shutdown(refresher *Refresher, store *ObservationStore) {
	if err := refresher.Stop(); err != nil {
		slog.Warn("Refresh loop stop failed", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Warn("Observation store close failed", "error", err)
	}
	purgeSecureMemory()
	slog.Info("Forecaster shut down")
}

// buildFetcher selects the observation source: the deterministic
// synthetic generator keeps the default stack self-contained, while
// SIGNAL_UPSTREAM_URL switches to the rate-limited chart client.
func buildFetcher(store *ObservationStore) (ObservationFetcher, error) {
	if upstreamURL == "" {
		return &SyntheticFetcher{Store: store}, nil
	}

	rps := 2.0
	if upstreamRPS != "" {
		parsed, err := strconv.ParseFloat(upstreamRPS, 64)
		if err != nil || parsed <= 0 {
			slog.Warn("Invalid SIGNAL_UPSTREAM_RPS, using default", "value", upstreamRPS)
		} else {
			rps = parsed
		}
	}

	vault, err := NewTokenVault(os.Getenv("SIGNAL_UPSTREAM_TOKEN"))
	if err != nil {
		return nil, err
	}
	// Drop the plaintext copy once the vault holds it.
	os.Unsetenv("SIGNAL_UPSTREAM_TOKEN")

	client := &http.Client{Timeout: 30 * time.Second}
	return NewUpstreamFetcher(upstreamURL, client, rps, 1, vault), nil
}

// upstreamMode names the configured observation source for startup logs.
func upstreamMode() string {
	if upstreamURL == "" {
		return "synthetic"
	}
	return upstreamURL
}

// parseSeriesList splits and sanitizes a comma-separated series list.
func parseSeriesList(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	series := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sanitized, err := validation.SanitizeSeries(part)
		if err != nil {
			return nil, err
		}
		series = append(series, sanitized)
	}
	if len(series) == 0 {
		return nil, errEmptySeriesList
	}
	return series, nil
}

// envInt parses an integer environment value, keeping fallback on any
// parse failure.
func envInt(name, raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		slog.Warn("Invalid integer environment value, using default", "name", name, "value", raw, "default", fallback)
		return fallback
	}
	return parsed
}
