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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
)

// mockHTTPClient routes probe requests to a handler and records URLs.
type mockHTTPClient struct {
	mu       sync.Mutex
	handler  func(*http.Request) (*http.Response, error)
	requests []string
}

func (c *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req.URL.String())
	c.mu.Unlock()
	return c.handler(req)
}

func (c *mockHTTPClient) requested(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.requests {
		if strings.Contains(u, substr) {
			return true
		}
	}
	return false
}

func jsonResponse(status int, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{},
	}, nil
}

// testForecastSet is the payload a healthy API serves.
func testForecastSet() artifact.ForecastSet {
	return artifact.ForecastSet{
		SchemaVersion: artifact.SchemaVersion,
		RunID:         "run-test",
		GeneratedAt:   time.Now().UTC(),
		Forecasts: []artifact.Forecast{
			{Series: "SPY", Mean: 644.1, Upper: 650.0, Lower: 638.2, Volatility: 0.011, Observations: 250},
			{Series: "QQQ", Mean: 502.3, Upper: 509.9, Lower: 494.7, Volatility: 0.016, Observations: 250},
		},
	}
}

// healthyStackHandler simulates a fully published, responsive stack.
func healthyStackHandler(req *http.Request) (*http.Response, error) {
	switch {
	case req.URL.Path == "/health" && req.URL.Port() == "12320":
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok", "service": "signal-forecaster"})
	case req.URL.Path == "/health":
		return jsonResponse(http.StatusOK, healthPayload{Service: "signal-api", Ready: true})
	case req.URL.Path == "/v1/forecasts/latest":
		return jsonResponse(http.StatusOK, testForecastSet())
	case strings.HasPrefix(req.URL.Path, "/v1/series/"):
		series := strings.TrimPrefix(req.URL.Path, "/v1/series/")
		return jsonResponse(http.StatusOK, map[string]string{"series": series})
	default:
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

// publishValidatorSet publishes a complete artifact set under root.
func publishValidatorSet(t *testing.T, root string) {
	t.Helper()

	p, err := artifact.NewPublisher(root)
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	staging, err := p.StageDir()
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	payload, err := json.Marshal(testForecastSet())
	if err != nil {
		t.Fatalf("marshal forecasts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, artifact.ForecastsExport), payload, 0o640); err != nil {
		t.Fatalf("write forecasts: %v", err)
	}

	history, err := os.Create(filepath.Join(staging, artifact.HistoryExport))
	if err != nil {
		t.Fatalf("create history: %v", err)
	}
	err = artifact.WriteHistoryCSV(history, []artifact.Observation{
		{Series: "SPY", Date: time.Now().UTC(), Close: 644.1},
	})
	history.Close()
	if err != nil {
		t.Fatalf("write history: %v", err)
	}

	manifest, err := artifact.BuildManifest(staging, "run-test", time.Now())
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	manifestPayload, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, artifact.ManifestExport), manifestPayload, 0o640); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if err := p.Publish(staging, "v-test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func validatorConfig(artifactDir string) *config.SignalConfig {
	cfg := config.DefaultConfig()
	cfg.Stack.ArtifactDir = artifactDir
	return &cfg
}

func newTestValidator(t *testing.T, cfg *config.SignalConfig, client HealthHTTPClient) *DefaultStackValidator {
	t.Helper()
	v, err := NewDefaultStackValidator(cfg, client)
	if err != nil {
		t.Fatalf("unexpected error creating validator: %v", err)
	}
	return v
}

// TestValidate_HealthyStack verifies the all-green path.
//
// # Description
//
// All four checks pass in the fixed sequence, the result maps to exit
// code zero, and every check records its own duration.
func TestValidate_HealthyStack(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	publishValidatorSet(t, root)
	client := &mockHTTPClient{handler: healthyStackHandler}
	v := newTestValidator(t, validatorConfig(root), client)

	result := v.Validate(context.Background())

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.ExitCode() != CLIExitSuccess {
		t.Errorf("expected exit %d, got: %d", CLIExitSuccess, result.ExitCode())
	}

	expectedOrder := []string{
		ValidateCheckLiveness,
		ValidateCheckExports,
		ValidateCheckEndpoints,
		ValidateCheckLatency,
	}
	if len(result.Checks) != len(expectedOrder) {
		t.Fatalf("expected %d checks, got: %d", len(expectedOrder), len(result.Checks))
	}
	for i, name := range expectedOrder {
		if result.Checks[i].Name != name {
			t.Errorf("check %d: expected %s, got: %s", i, name, result.Checks[i].Name)
		}
		if !result.Checks[i].Success {
			t.Errorf("check %s failed: %s", name, result.Checks[i].Detail)
		}
	}
	if result.Duration <= 0 {
		t.Error("expected a positive total duration")
	}
	if result.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}

	// The structural check must have looked up individual series.
	if !client.requested("/v1/series/SPY") {
		t.Error("expected a series lookup for SPY")
	}
}

// TestValidate_ServerNotReady verifies liveness failure reporting.
//
// # Description
//
// A server reporting ready=false fails the liveness check but the
// sequence still runs to completion, and the exit code is the findings
// code for every format of the same result.
func TestValidate_ServerNotReady(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	publishValidatorSet(t, root)
	client := &mockHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/health" && req.URL.Port() != "12320" {
			return jsonResponse(http.StatusServiceUnavailable, healthPayload{
				Service:        "signal-api",
				Ready:          false,
				MissingExports: []string{artifact.ForecastsExport},
			})
		}
		return healthyStackHandler(req)
	}}
	v := newTestValidator(t, validatorConfig(root), client)

	result := v.Validate(context.Background())

	if result.Success {
		t.Fatal("expected failure for not-ready server")
	}
	if result.ExitCode() != CLIExitFindings {
		t.Errorf("expected exit %d, got: %d", CLIExitFindings, result.ExitCode())
	}
	if len(result.Checks) != 4 {
		t.Errorf("expected the full sequence to run, got %d checks", len(result.Checks))
	}
	if result.Checks[0].Success {
		t.Error("expected liveness to fail")
	}
	if !strings.Contains(result.Checks[0].Detail, "not ready") {
		t.Errorf("expected detail to name readiness, got: %s", result.Checks[0].Detail)
	}

	found := false
	for _, e := range result.Errors {
		if strings.HasPrefix(e, ValidateCheckLiveness+":") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error entry naming liveness, got: %v", result.Errors)
	}
}

// TestValidate_ExportMissingOnDisk verifies the direct artifact check.
//
// # Description
//
// The server may claim readiness while the artifact volume disagrees;
// the direct directory check catches the divergence.
func TestValidate_ExportMissingOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	publishValidatorSet(t, root)

	// Corrupt the published version behind the server's back.
	dir, err := artifact.NewReader(root).CurrentDir()
	if err != nil {
		t.Fatalf("resolve current: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, artifact.HistoryExport)); err != nil {
		t.Fatalf("remove export: %v", err)
	}

	client := &mockHTTPClient{handler: healthyStackHandler}
	v := newTestValidator(t, validatorConfig(root), client)

	result := v.Validate(context.Background())

	if result.Success {
		t.Fatal("expected failure for missing export on disk")
	}
	var exportCheck CheckResult
	for _, c := range result.Checks {
		if c.Name == ValidateCheckExports {
			exportCheck = c
		}
	}
	if exportCheck.Success {
		t.Error("expected the export check to fail")
	}
	if !strings.Contains(exportCheck.Detail, artifact.HistoryExport) {
		t.Errorf("expected detail to name %s, got: %s", artifact.HistoryExport, exportCheck.Detail)
	}
}

// TestValidate_MarkerCleared verifies marker sensitivity.
func TestValidate_MarkerCleared(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	publishValidatorSet(t, root)

	p, err := artifact.NewPublisher(root)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if err := p.ClearHealthy(); err != nil {
		t.Fatalf("clear marker: %v", err)
	}

	client := &mockHTTPClient{handler: healthyStackHandler}
	v := newTestValidator(t, validatorConfig(root), client)

	result := v.Validate(context.Background())

	if result.Success {
		t.Fatal("expected failure with cleared health marker")
	}
	foundMarkerError := false
	for _, e := range result.Errors {
		if strings.Contains(e, "marker") {
			foundMarkerError = true
		}
	}
	if !foundMarkerError {
		t.Errorf("expected an error naming the marker, got: %v", result.Errors)
	}
}

// TestValidate_StructuralFailures verifies endpoint shape checks.
func TestValidate_StructuralFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		handler func(*http.Request) (*http.Response, error)
		wantIn  string
	}{
		{
			"empty_forecasts",
			func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == "/v1/forecasts/latest" {
					return jsonResponse(http.StatusOK, artifact.ForecastSet{
						SchemaVersion: artifact.SchemaVersion,
					})
				}
				return healthyStackHandler(req)
			},
			"empty forecast list",
		},
		{
			"series_mismatch",
			func(req *http.Request) (*http.Response, error) {
				if strings.HasPrefix(req.URL.Path, "/v1/series/") {
					return jsonResponse(http.StatusOK, map[string]string{"series": "WRONG"})
				}
				return healthyStackHandler(req)
			},
			"payload names",
		},
		{
			"wrong_schema",
			func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == "/v1/forecasts/latest" {
					set := testForecastSet()
					set.SchemaVersion = 99
					return jsonResponse(http.StatusOK, set)
				}
				return healthyStackHandler(req)
			},
			"schema",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			publishValidatorSet(t, root)
			client := &mockHTTPClient{handler: tc.handler}
			v := newTestValidator(t, validatorConfig(root), client)

			result := v.Validate(context.Background())

			if result.Success {
				t.Fatal("expected structural failure")
			}
			var endpointCheck CheckResult
			for _, c := range result.Checks {
				if c.Name == ValidateCheckEndpoints {
					endpointCheck = c
				}
			}
			if endpointCheck.Success {
				t.Fatal("expected the endpoint check to fail")
			}
			if !strings.Contains(endpointCheck.Detail, tc.wantIn) {
				t.Errorf("expected detail containing %q, got: %s", tc.wantIn, endpointCheck.Detail)
			}
		})
	}
}

// TestValidate_LatencyThreshold verifies the latency check.
func TestValidate_LatencyThreshold(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	publishValidatorSet(t, root)

	cfg := validatorConfig(root)
	cfg.Validation.LatencyThresholdMS = 1

	client := &mockHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/v1/forecasts/latest" {
			time.Sleep(20 * time.Millisecond)
		}
		return healthyStackHandler(req)
	}}
	v := newTestValidator(t, cfg, client)

	result := v.Validate(context.Background())

	if result.Success {
		t.Fatal("expected latency failure")
	}
	var latencyCheck CheckResult
	for _, c := range result.Checks {
		if c.Name == ValidateCheckLatency {
			latencyCheck = c
		}
	}
	if latencyCheck.Success {
		t.Fatal("expected the latency check to fail")
	}
	if !strings.Contains(latencyCheck.Detail, "exceeds threshold") {
		t.Errorf("expected threshold detail, got: %s", latencyCheck.Detail)
	}
}

// TestValidationResult_ExitCode verifies the pure exit mapping.
func TestValidationResult_ExitCode(t *testing.T) {
	t.Parallel()

	passing := ValidationResult{Success: true}
	failing := ValidationResult{Success: false}

	if passing.ExitCode() != CLIExitSuccess {
		t.Errorf("expected %d for success, got: %d", CLIExitSuccess, passing.ExitCode())
	}
	if failing.ExitCode() != CLIExitFindings {
		t.Errorf("expected %d for failure, got: %d", CLIExitFindings, failing.ExitCode())
	}
}

// TestWaitForHealthMarker verifies marker waiting behavior.
func TestWaitForHealthMarker(t *testing.T) {
	t.Parallel()

	t.Run("already_present", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		publishValidatorSet(t, root)
		v := newTestValidator(t, validatorConfig(root), &mockHTTPClient{handler: healthyStackHandler})

		if err := v.WaitForHealthMarker(context.Background(), time.Second); err != nil {
			t.Errorf("expected immediate return with marker present, got: %v", err)
		}
	})

	t.Run("appears_during_wait", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		v := newTestValidator(t, validatorConfig(root), &mockHTTPClient{handler: healthyStackHandler})

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = os.WriteFile(filepath.Join(root, artifact.HealthMarker), []byte("ok\n"), 0o640)
		}()

		if err := v.WaitForHealthMarker(context.Background(), 5*time.Second); err != nil {
			t.Errorf("expected marker to resolve the wait, got: %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		v := newTestValidator(t, validatorConfig(root), &mockHTTPClient{handler: healthyStackHandler})

		err := v.WaitForHealthMarker(context.Background(), 100*time.Millisecond)
		if !errors.Is(err, ErrMarkerWaitTimeout) {
			t.Errorf("expected ErrMarkerWaitTimeout, got: %v", err)
		}
	})

	t.Run("context_cancelled", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		v := newTestValidator(t, validatorConfig(root), &mockHTTPClient{handler: healthyStackHandler})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := v.WaitForHealthMarker(ctx, 10*time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
	})
}

// TestValidateEndpointURL verifies the probe scheme guard.
func TestValidateEndpointURL(t *testing.T) {
	t.Parallel()

	valid := []string{"http://localhost:12300/health", "https://api.internal/v1"}
	for _, u := range valid {
		if err := validateEndpointURL(u); err != nil {
			t.Errorf("expected %q to validate, got: %v", u, err)
		}
	}

	invalid := []string{"file:///etc/passwd", "ftp://host/x", "://bad", "http://"}
	for _, u := range invalid {
		if err := validateEndpointURL(u); !errors.Is(err, ErrUnsafeEndpoint) {
			t.Errorf("expected ErrUnsafeEndpoint for %q, got: %v", u, err)
		}
	}
}

// TestNewDefaultStackValidator_NilConfig verifies construction guards.
func TestNewDefaultStackValidator_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewDefaultStackValidator(nil, nil)
	if !errors.Is(err, ErrNilDependency) {
		t.Errorf("expected ErrNilDependency, got: %v", err)
	}
}
