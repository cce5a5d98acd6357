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
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMarkerWaitTimeout is returned when the producer's health marker
	// does not appear within the wait bound.
	ErrMarkerWaitTimeout = errors.New("health marker did not appear")

	// ErrUnsafeEndpoint is returned for endpoint URLs outside http/https.
	ErrUnsafeEndpoint = errors.New("unsafe endpoint URL")
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Validation check names, in sequence order.
const (
	ValidateCheckLiveness  = "liveness"
	ValidateCheckExports   = "required-exports"
	ValidateCheckEndpoints = "endpoint-structure"
	ValidateCheckLatency   = "latency"
)

// probeTimeout bounds every individual endpoint probe. The reporter as
// a whole has no deadline; only its calls do.
const probeTimeout = 5 * time.Second

// maxSeriesProbes caps how many per-series lookups the structural check
// fans out to.
const maxSeriesProbes = 2

// =============================================================================
// TYPES
// =============================================================================

// CheckResult is the outcome of one validation check.
type CheckResult struct {
	Name     string        `json:"name" yaml:"name"`
	Success  bool          `json:"success" yaml:"success"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ValidationResult is the full smoke-check report: the fixed check
// sequence with per-check outcomes and durations. The struct is built
// once and serialized unchanged to every output format.
type ValidationResult struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Success   bool          `json:"success" yaml:"success"`
	Checks    []CheckResult `json:"checks" yaml:"checks"`
	Errors    []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ExitCode maps the result to the process exit code. The mapping is a
// pure function of Success so every output format exits identically.
func (r ValidationResult) ExitCode() int {
	if r.Success {
		return CLIExitSuccess
	}
	return CLIExitFindings
}

// healthPayload is the signal-api /health response body.
type healthPayload struct {
	Service        string   `json:"service"`
	Ready          bool     `json:"ready"`
	MissingExports []string `json:"missing_exports"`
}

// =============================================================================
// INTERFACES
// =============================================================================

// HealthHTTPClient abstracts HTTP execution for endpoint probes.
//
// http.Client satisfies this interface directly. Tests inject mocks to
// simulate any stack condition without listening sockets.
type HealthHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StackValidator runs the smoke-check sequence against a running stack.
//
// # Description
//
// Checks are read-only and short-lived: they probe HTTP endpoints and
// stat the artifact directory, never mutating either. Safe to run
// beside a live stack at any time.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type StackValidator interface {
	// Validate runs the fixed check sequence and returns one result.
	// The sequence always runs to completion; a failed check marks the
	// result unsuccessful but does not stop later checks.
	Validate(ctx context.Context) ValidationResult

	// WaitForHealthMarker blocks until the producer's health marker
	// exists, the timeout elapses, or the context is cancelled. Uses
	// filesystem notification rather than polling.
	WaitForHealthMarker(ctx context.Context, timeout time.Duration) error
}

// =============================================================================
// DEFAULT IMPLEMENTATION
// =============================================================================

// DefaultStackValidator probes the configured endpoints and artifact
// directory.
type DefaultStackValidator struct {
	config     *config.SignalConfig
	httpClient HealthHTTPClient
	reader     *artifact.Reader
}

// NewDefaultStackValidator creates a validator for the configured stack.
//
// # Inputs
//
//   - cfg: Configuration carrying endpoints, the artifact directory,
//     and the latency threshold. Must not be nil.
//   - httpClient: HTTP client for probes. Nil gets a keep-alive-free
//     default client; probes are one-shot, pooling buys nothing.
//
// # Outputs
//
//   - *DefaultStackValidator: Ready-to-use validator.
//   - error: ErrNilDependency if cfg is nil.
func NewDefaultStackValidator(cfg *config.SignalConfig, httpClient HealthHTTPClient) (*DefaultStackValidator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: SignalConfig", ErrNilDependency)
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
		}
	}
	return &DefaultStackValidator{
		config:     cfg,
		httpClient: httpClient,
		reader:     artifact.NewReader(cfg.Stack.GetArtifactDir()),
	}, nil
}

// Validate implements StackValidator.
func (v *DefaultStackValidator) Validate(ctx context.Context) ValidationResult {
	result := ValidationResult{Timestamp: time.Now().UTC()}
	start := time.Now()

	checks := []struct {
		name string
		run  func(context.Context) (string, error)
	}{
		{ValidateCheckLiveness, v.checkLiveness},
		{ValidateCheckExports, v.checkExports},
		{ValidateCheckEndpoints, v.checkEndpoints},
		{ValidateCheckLatency, v.checkLatency},
	}

	result.Success = true
	for _, check := range checks {
		checkStart := time.Now()
		detail, err := check.run(ctx)

		entry := CheckResult{
			Name:     check.name,
			Success:  err == nil,
			Duration: time.Since(checkStart),
			Detail:   detail,
		}
		if err != nil {
			entry.Detail = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", check.name, err))
			result.Success = false
		}
		result.Checks = append(result.Checks, entry)

		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			result.Success = false
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// checkLiveness probes the server and producer health endpoints. The
// server must report ready; the producer must answer at all.
func (v *DefaultStackValidator) checkLiveness(ctx context.Context) (string, error) {
	health, elapsed, err := v.fetchServerHealth(ctx)
	if err != nil {
		return "", fmt.Errorf("signal-api /health: %w", err)
	}
	if !health.Ready {
		return "", fmt.Errorf("signal-api not ready (missing: %s)",
			strings.Join(health.MissingExports, ", "))
	}

	status, _, producerElapsed, err := v.probe(ctx, v.config.Endpoints.GetForecasterURL()+"/health")
	if err != nil {
		return "", fmt.Errorf("signal-forecaster /health: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("signal-forecaster /health: status %d", status)
	}

	return fmt.Sprintf("signal-api ready in %v, signal-forecaster alive in %v",
		elapsed.Round(time.Millisecond), producerElapsed.Round(time.Millisecond)), nil
}

// checkExports verifies the required export set from both sides: the
// server's own report and a direct look at the artifact directory.
func (v *DefaultStackValidator) checkExports(ctx context.Context) (string, error) {
	health, _, err := v.fetchServerHealth(ctx)
	if err != nil {
		return "", fmt.Errorf("signal-api /health: %w", err)
	}
	if len(health.MissingExports) > 0 {
		return "", fmt.Errorf("server reports missing exports: %s",
			strings.Join(health.MissingExports, ", "))
	}

	missing, err := v.reader.MissingExports()
	if err != nil {
		return "", fmt.Errorf("artifact dir %s: %w", v.reader.Root(), err)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("artifact dir missing exports: %s", strings.Join(missing, ", "))
	}
	if !v.reader.Healthy() {
		return "", fmt.Errorf("health marker absent at %s", v.reader.HealthMarkerPath())
	}

	return fmt.Sprintf("all %d required exports published and marked healthy",
		len(artifact.RequiredExports())), nil
}

// checkEndpoints validates the structure of the read endpoints: the
// latest-forecast payload first, then per-series lookups in parallel.
func (v *DefaultStackValidator) checkEndpoints(ctx context.Context) (string, error) {
	base := v.config.Endpoints.GetAPIBaseURL()

	status, body, _, err := v.probe(ctx, base+"/v1/forecasts/latest")
	if err != nil {
		return "", fmt.Errorf("latest forecasts: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("latest forecasts: status %d", status)
	}

	var set artifact.ForecastSet
	if err := json.Unmarshal(body, &set); err != nil {
		return "", fmt.Errorf("latest forecasts: undecodable payload: %w", err)
	}
	if set.SchemaVersion != artifact.SchemaVersion {
		return "", fmt.Errorf("latest forecasts: schema %d (want %d)", set.SchemaVersion, artifact.SchemaVersion)
	}
	if len(set.Forecasts) == 0 {
		return "", errors.New("latest forecasts: empty forecast list")
	}
	for _, f := range set.Forecasts {
		if f.Series == "" {
			return "", errors.New("latest forecasts: forecast with empty series")
		}
		if !isFiniteBand(f) {
			return "", fmt.Errorf("latest forecasts: non-finite band for %s", f.Series)
		}
	}

	// Series lookups are independent of each other; fan out.
	names := set.SeriesNames()
	if len(names) > maxSeriesProbes {
		names = names[:maxSeriesProbes]
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range names {
		series := name
		group.Go(func() error {
			return v.probeSeries(groupCtx, base, series)
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}

	return fmt.Sprintf("%d forecasts, %d series lookups verified", len(set.Forecasts), len(names)), nil
}

func (v *DefaultStackValidator) probeSeries(ctx context.Context, base, series string) error {
	status, body, _, err := v.probe(ctx, base+"/v1/series/"+url.PathEscape(series))
	if err != nil {
		return fmt.Errorf("series %s: %w", series, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("series %s: status %d", series, status)
	}

	var payload struct {
		Series string `json:"series"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("series %s: undecodable payload: %w", series, err)
	}
	if payload.Series != series {
		return fmt.Errorf("series %s: payload names %q", series, payload.Series)
	}
	return nil
}

// checkLatency measures the read path sequentially so the numbers are
// not skewed by concurrent probes.
func (v *DefaultStackValidator) checkLatency(ctx context.Context) (string, error) {
	threshold := v.config.Validation.GetLatencyThreshold()
	endpoints := []string{
		v.config.Endpoints.GetAPIBaseURL() + "/health",
		v.config.Endpoints.GetAPIBaseURL() + "/v1/forecasts/latest",
	}

	var parts []string
	for _, endpoint := range endpoints {
		status, _, elapsed, err := v.probe(ctx, endpoint)
		if err != nil {
			return "", fmt.Errorf("%s: %w", endpoint, err)
		}
		if status != http.StatusOK {
			return "", fmt.Errorf("%s: status %d", endpoint, status)
		}
		if elapsed > threshold {
			return "", fmt.Errorf("%s: %v exceeds threshold %v",
				endpoint, elapsed.Round(time.Millisecond), threshold)
		}
		parts = append(parts, fmt.Sprintf("%s in %v", endpoint, elapsed.Round(time.Millisecond)))
	}
	return strings.Join(parts, ", "), nil
}

// fetchServerHealth probes the server /health endpoint and decodes its
// readiness payload. A non-200 with a decodable body still counts: a
// starting server reports ready=false with 503.
func (v *DefaultStackValidator) fetchServerHealth(ctx context.Context) (healthPayload, time.Duration, error) {
	status, body, elapsed, err := v.probe(ctx, v.config.Endpoints.GetAPIBaseURL()+"/health")
	if err != nil {
		return healthPayload{}, elapsed, err
	}

	var payload healthPayload
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		return healthPayload{}, elapsed, fmt.Errorf("status %d, undecodable body: %w", status, decodeErr)
	}
	return payload, elapsed, nil
}

// probe performs one GET with the per-call timeout and a scheme guard.
func (v *DefaultStackValidator) probe(ctx context.Context, rawURL string) (int, []byte, time.Duration, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return 0, nil, 0, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, nil, elapsed, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, elapsed, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, elapsed, nil
}

// validateEndpointURL restricts probes to http/https with a host, the
// same guard the stack's other URL consumers apply.
func validateEndpointURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeEndpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeEndpoint, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeEndpoint)
	}
	return nil
}

func isFiniteBand(f artifact.Forecast) bool {
	for _, v := range []float64{f.Mean, f.Upper, f.Lower, f.Volatility} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WaitForHealthMarker implements StackValidator.
//
// # Description
//
// Watches the artifact root for the health marker with fsnotify. The
// existing-marker case returns immediately; otherwise the first create
// or write of the marker file resolves the wait. The bound is a hard
// timeout, not a retry budget.
//
// # Limitations
//
//   - The artifact root must already exist; the engine's volume setup
//     creates it before any service starts.
func (v *DefaultStackValidator) WaitForHealthMarker(ctx context.Context, timeout time.Duration) error {
	markerPath := v.reader.HealthMarkerPath()
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(v.reader.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", v.reader.Root(), err)
	}

	// A publish may have landed between the stat and the watch.
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: waited %v for %s", ErrMarkerWaitTimeout, timeout, markerPath)
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrMarkerWaitTimeout)
			}
			if event.Name == markerPath && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return nil
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrMarkerWaitTimeout)
			}
			return fmt.Errorf("watch %s: %w", v.reader.Root(), watchErr)
		}
	}
}

// =============================================================================
// MOCK IMPLEMENTATION
// =============================================================================

// MockStackValidator implements StackValidator for tests.
type MockStackValidator struct {
	ValidateFunc            func(context.Context) ValidationResult
	WaitForHealthMarkerFunc func(context.Context, time.Duration) error

	ValidateCalls int
	WaitCalls     []time.Duration
}

// Validate implements StackValidator.
func (m *MockStackValidator) Validate(ctx context.Context) ValidationResult {
	m.ValidateCalls++
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx)
	}
	return ValidationResult{
		Timestamp: time.Now().UTC(),
		Success:   true,
		Checks: []CheckResult{
			{Name: ValidateCheckLiveness, Success: true},
			{Name: ValidateCheckExports, Success: true},
			{Name: ValidateCheckEndpoints, Success: true},
			{Name: ValidateCheckLatency, Success: true},
		},
	}
}

// WaitForHealthMarker implements StackValidator.
func (m *MockStackValidator) WaitForHealthMarker(ctx context.Context, timeout time.Duration) error {
	m.WaitCalls = append(m.WaitCalls, timeout)
	if m.WaitForHealthMarkerFunc != nil {
		return m.WaitForHealthMarkerFunc(ctx, timeout)
	}
	return nil
}

// =============================================================================
// INTERFACE SATISFACTION CHECKS
// =============================================================================

var _ StackValidator = (*DefaultStackValidator)(nil)
var _ StackValidator = (*MockStackValidator)(nil)
var _ HealthHTTPClient = (*http.Client)(nil)
