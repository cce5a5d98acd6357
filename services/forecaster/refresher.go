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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/google/uuid"
)

// =============================================================================
// Refresher Configuration
// =============================================================================

// RefresherConfig holds settings for the artifact refresh loop.
//
// # Fields
//
//   - Interval: Time between refresh iterations. Default: 15 minutes.
//   - Series: Series names refreshed each iteration.
//   - HorizonDays: Forecast horizon written into each forecast.
//   - HistoryDays: Observations older than this are pruned.
//   - FetchWorkers: Parallel per-series fetches per iteration.
type RefresherConfig struct {
	Interval     time.Duration
	Series       []string
	HorizonDays  int
	HistoryDays  int
	FetchWorkers int
}

// DefaultRefresherConfig returns production defaults; Series must still
// be set by the caller.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:     15 * time.Minute,
		HorizonDays:  5,
		HistoryDays:  365,
		FetchWorkers: 4,
	}
}

// RefreshResult summarizes one successful refresh iteration.
type RefreshResult struct {
	RunID             string
	Version           string
	SeriesCount       int
	ObservationsAdded int
	StartTime         time.Time
	EndTime           time.Time
}

// DurationMs returns the iteration's wall time in milliseconds.
func (r RefreshResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// =============================================================================
// Refresher
// =============================================================================

// Refresher runs the artifact refresh loop: fetch new observations,
// prune old ones, derive forecasts, and publish a complete artifact
// version with an atomic symlink flip.
//
// # Description
//
// A single goroutine executes every iteration, so iterations never
// overlap regardless of interval, manual triggers, or slow upstreams.
// A failed iteration leaves the published set byte-identical and only
// clears the health marker; the next tick retries.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Refresher struct {
	fetcher   ObservationFetcher
	store     *ObservationStore
	publisher *artifact.Publisher
	mirror    *SnapshotMirror // nil when mirroring is disabled
	config    RefresherConfig
	state     atomic.Int32
	trigger   chan struct{}
	done      chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewRefresher creates a refresher. mirror may be nil.
func NewRefresher(fetcher ObservationFetcher, store *ObservationStore, publisher *artifact.Publisher, mirror *SnapshotMirror, config RefresherConfig) *Refresher {
	return &Refresher{
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		mirror:    mirror,
		config:    config,
		trigger:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start begins the refresh loop. The first iteration runs immediately;
// later ones follow the configured interval until Stop or ctx cancel.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher is already running")
	}
	r.running = true
	r.done = make(chan struct{}) // Reset done channel for potential restart
	r.mu.Unlock()

	slog.Info("Refresh loop starting",
		"interval", r.config.Interval.String(),
		"series", strings.Join(r.config.Series, ","),
		"horizon_days", r.config.HorizonDays,
		"history_days", r.config.HistoryDays,
	)

	go r.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit after the current iteration. Safe to
// call multiple times.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil // Already stopped
	}

	slog.Info("Refresh loop stopping")
	close(r.done)
	r.running = false
	return nil
}

// Running reports whether the loop goroutine is active.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// State returns the loop's current lifecycle state.
func (r *Refresher) State() RefreshState {
	return RefreshState(r.state.Load())
}

// TriggerRefresh schedules an out-of-band iteration on the loop
// goroutine, preserving the no-overlap guarantee. Returns false when a
// trigger is already pending.
func (r *Refresher) TriggerRefresh() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunNow executes one iteration synchronously on the caller's
// goroutine. Only for use before Start or in tests; a running loop
// takes triggers instead.
func (r *Refresher) RunNow(ctx context.Context) (RefreshResult, error) {
	return r.runRefreshCycle(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

// runLoop is the single goroutine executing refresh iterations.
func (r *Refresher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Run an initial refresh immediately on start
	r.executeRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Refresh loop stopped (context cancelled)")
			return
		case <-r.done:
			slog.Info("Refresh loop stopped (stop requested)")
			return
		case <-r.trigger:
			r.executeRefresh(ctx)
		case <-ticker.C:
			r.executeRefresh(ctx)
		}
	}
}

// executeRefresh runs one iteration with error recovery: failures clear
// the health marker, log one status line, and leave the loop running.
func (r *Refresher) executeRefresh(ctx context.Context) {
	metricRefreshIterations.Inc()
	r.setState(StateRefreshing)

	result, err := r.runRefreshCycle(ctx)
	if err != nil {
		metricRefreshFailures.Inc()
		r.setState(StateFailed)
		if clearErr := r.publisher.ClearHealthy(); clearErr != nil {
			slog.Warn("Failed to clear health marker", "error", clearErr)
		}
		slog.Error("Refresh iteration failed", "error", err)
		return
	}

	r.setState(StatePublished)
	metricLastPublish.SetToCurrentTime()
	metricRefreshDuration.Observe(result.EndTime.Sub(result.StartTime).Seconds())
	slog.Info("Refresh iteration published",
		"run_id", result.RunID,
		"version", result.Version,
		"series", result.SeriesCount,
		"observations_added", result.ObservationsAdded,
		"duration_ms", result.DurationMs(),
	)

	if r.mirror != nil {
		r.mirrorVersion(ctx, result.Version)
	}
}

// runRefreshCycle performs one full iteration: fetch, prune, derive,
// stage, publish.
func (r *Refresher) runRefreshCycle(ctx context.Context) (RefreshResult, error) {
	result := RefreshResult{
		StartTime: time.Now(),
		RunID:     uuid.New().String(),
	}

	// Phase 1: pull new observations into the store
	added, err := r.fetchNewObservations(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch observations: %w", err)
	}
	result.ObservationsAdded = added

	// Phase 2: drop observations past the history window
	cutoff := time.Now().UTC().AddDate(0, 0, -r.config.HistoryDays)
	if _, err := r.store.PruneBefore(ctx, cutoff); err != nil {
		return result, fmt.Errorf("prune history: %w", err)
	}

	// Phase 3: derive forecasts from the full stored window
	observationsBySeries := make(map[string][]artifact.Observation, len(r.config.Series))
	var allObservations []artifact.Observation
	for _, series := range r.config.Series {
		observations, err := r.store.Observations(ctx, series)
		if err != nil {
			return result, fmt.Errorf("read %s history: %w", series, err)
		}
		observationsBySeries[series] = observations
		allObservations = append(allObservations, observations...)
	}

	generatedAt := time.Now().UTC()
	set, err := DeriveForecastSet(result.RunID, generatedAt, observationsBySeries, r.config.HorizonDays)
	if err != nil {
		return result, fmt.Errorf("derive forecasts: %w", err)
	}

	// Phase 4: stage a complete export set and flip the current link
	version, err := r.publishSet(set, allObservations)
	if err != nil {
		return result, err
	}

	result.Version = version
	result.SeriesCount = len(set.Forecasts)
	result.EndTime = time.Now()
	return result, nil
}

// seriesFetchResult carries one worker's outcome for one series.
type seriesFetchResult struct {
	series string
	added  int
	err    error
}

// fetchNewObservations pulls each configured series' increment since
// its last stored date, fanned out across a small worker pool. Any
// per-series failure fails the whole iteration so a partial window
// never publishes.
func (r *Refresher) fetchNewObservations(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	jobs := make(chan string, len(r.config.Series))
	results := make(chan seriesFetchResult, len(r.config.Series))

	workers := r.config.FetchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(r.config.Series) {
		workers = len(r.config.Series)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.fetchWorker(ctx, i, &wg, jobs, results)
	}

	for _, series := range r.config.Series {
		jobs <- series
	}
	close(jobs)

	wg.Wait()
	close(results)

	total := 0
	var failures []string
	for res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", res.series, res.err))
			continue
		}
		total += res.added
		metricObservationsFetched.WithLabelValues(res.series).Add(float64(res.added))
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		return 0, fmt.Errorf("%s", strings.Join(failures, "; "))
	}
	return total, nil
}

// fetchWorker processes series from jobs until the channel drains.
func (r *Refresher) fetchWorker(ctx context.Context, id int, wg *sync.WaitGroup, jobs <-chan string, results chan<- seriesFetchResult) {
	defer wg.Done()
	for series := range jobs {
		slog.Debug("Worker fetching", "worker_id", id, "series", series)

		var since time.Time
		if last, found, err := r.store.LatestObservation(ctx, series); err != nil {
			results <- seriesFetchResult{series: series, err: err}
			continue
		} else if found {
			since = last.Date
		}

		observations, err := r.fetcher.FetchSince(ctx, series, since)
		if err != nil {
			results <- seriesFetchResult{series: series, err: err}
			continue
		}

		if err := r.store.PutObservations(ctx, observations); err != nil {
			results <- seriesFetchResult{series: series, err: err}
			continue
		}
		results <- seriesFetchResult{series: series, added: len(observations)}
	}
}

// publishSet stages the export set and publishes it under a sortable
// version name. Failed staging is discarded; the live set is untouched.
func (r *Refresher) publishSet(set artifact.ForecastSet, observations []artifact.Observation) (string, error) {
	staging, err := r.publisher.StageDir()
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	if err := writeExports(staging, set, observations); err != nil {
		r.publisher.Discard(staging)
		return "", fmt.Errorf("stage exports: %w", err)
	}

	version := versionName(set.GeneratedAt, set.RunID)
	if err := r.publisher.Publish(staging, version); err != nil {
		r.publisher.Discard(staging)
		return "", fmt.Errorf("publish %s: %w", version, err)
	}
	return version, nil
}

// mirrorVersion uploads the freshly published version. Best-effort: a
// mirror failure never fails the iteration.
func (r *Refresher) mirrorVersion(ctx context.Context, version string) {
	versionDir := filepath.Join(r.publisher.Root(), artifact.VersionsDir, version)
	if err := r.mirror.MirrorVersion(ctx, versionDir, version); err != nil {
		slog.Warn("Snapshot mirror upload failed", "version", version, "error", err)
		return
	}
	slog.Info("Snapshot mirrored", "version", version)
}

// setState records the state for /health and the state gauge.
func (r *Refresher) setState(state RefreshState) {
	r.state.Store(int32(state))
	metricRefreshState.Set(float64(state))
}

// versionName builds a chronologically sortable version directory name.
func versionName(generatedAt time.Time, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return generatedAt.UTC().Format("20060102T150405Z") + "-" + short
}

// writeExports writes the complete export set into dir: forecasts.json,
// history.csv, and the manifest describing both.
func writeExports(dir string, set artifact.ForecastSet, observations []artifact.Observation) error {
	payload, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode forecasts: %w", err)
	}
	payload = append(payload, '\n')
	if err := os.WriteFile(filepath.Join(dir, artifact.ForecastsExport), payload, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", artifact.ForecastsExport, err)
	}

	history, err := os.Create(filepath.Join(dir, artifact.HistoryExport))
	if err != nil {
		return fmt.Errorf("create %s: %w", artifact.HistoryExport, err)
	}
	if err := artifact.WriteHistoryCSV(history, observations); err != nil {
		history.Close()
		return fmt.Errorf("write %s: %w", artifact.HistoryExport, err)
	}
	if err := history.Close(); err != nil {
		return fmt.Errorf("close %s: %w", artifact.HistoryExport, err)
	}

	manifest, err := artifact.BuildManifest(dir, set.RunID, set.GeneratedAt)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := os.WriteFile(filepath.Join(dir, artifact.ManifestExport), encoded, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", artifact.ManifestExport, err)
	}
	return nil
}
