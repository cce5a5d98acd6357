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
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/compose"
)

// launchFactory produces a single shared MockExecutor for launcher tests,
// recording the mode and profiles of every executor request.
type launchFactory struct {
	mu       sync.Mutex
	requests []factoryRequest
	mock     *compose.MockExecutor
	err      error
	panicVal interface{}
}

func (f *launchFactory) factory(mode RuntimeMode, profiles []string) (compose.Executor, error) {
	if f.panicVal != nil {
		panic(f.panicVal)
	}

	f.mu.Lock()
	f.requests = append(f.requests, factoryRequest{mode: mode, profiles: profiles})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.mock, nil
}

func (f *launchFactory) lastRequest(t *testing.T) factoryRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("expected at least one executor request")
	}
	return f.requests[len(f.requests)-1]
}

// healthyStackStatus builds the engine view of a fully started stack:
// every core role running with a passing health check.
func healthyStackStatus(includeResearch bool) *compose.ComposeStatus {
	healthy := true
	services := []compose.ServiceStatus{
		{Name: "forecaster", ContainerName: "signal-forecaster", State: "running", Healthy: &healthy},
		{Name: "api", ContainerName: "signal-api", State: "running", Healthy: &healthy},
		{Name: "dashboard", ContainerName: "signal-dashboard", State: "running", Healthy: &healthy},
	}
	if includeResearch {
		services = append(services, compose.ServiceStatus{
			Name: "research", ContainerName: "signal-research", State: "running",
		})
	}
	return &compose.ComposeStatus{Services: services, Running: len(services)}
}

// newLaunchFixture wires a launcher over a recording factory whose
// executor reports a healthy stack, with both output streams captured.
func newLaunchFixture(t *testing.T) (*DefaultStackLauncher, *launchFactory, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			return healthyStackStatus(false), nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 2

	launcher, err := NewDefaultStackLauncher(&cfg, &MockResourceProfiler{}, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}

	var out, errOut bytes.Buffer
	launcher.SetOutput(&out)
	launcher.SetErrOutput(&errOut)
	return launcher, fake, &out, &errOut
}

// lowPowerProfile is a host below the core floor, which the recommender
// maps to low-power.
func lowPowerProfile() ResourceProfile {
	cores := 2
	total := int64(8 * giB)
	avail := int64(4 * giB)
	return ResourceProfile{
		Platform:             PlatformLinux,
		CPUCores:             &cores,
		TotalMemoryBytes:     &total,
		AvailableMemoryBytes: &avail,
		DetectionConfidence:  ConfidenceFull,
	}
}

// TestNewDefaultStackLauncher_NilDependencies verifies construction guards.
func TestNewDefaultStackLauncher_NilDependencies(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	profiler := &MockResourceProfiler{}
	factory := func(RuntimeMode, []string) (compose.Executor, error) {
		return &compose.MockExecutor{}, nil
	}

	cases := []struct {
		name     string
		cfg      *config.SignalConfig
		profiler ResourceProfiler
		factory  ComposeFactoryFunc
	}{
		{"nil config", nil, profiler, factory},
		{"nil profiler", &cfg, nil, factory},
		{"nil factory", &cfg, profiler, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDefaultStackLauncher(tc.cfg, tc.profiler, tc.factory)
			if !errors.Is(err, ErrNilDependency) {
				t.Errorf("expected ErrNilDependency, got: %v", err)
			}
		})
	}
}

// TestOverlayForMode pins the mode-to-overlay mapping: the default mode
// has no overlay at all, so a default launch layers exactly the base
// manifest a direct engine invocation would use.
func TestOverlayForMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode    RuntimeMode
		overlay string
		wantErr bool
	}{
		{ModeDefault, "", false},
		{ModeLowPower, "overlays/low-power.yaml", false},
		{ModeHighPerformance, "overlays/high-performance.yaml", false},
		{ModeAuto, "", true},
		{RuntimeMode("turbo"), "", true},
	}
	for _, tc := range cases {
		overlay, err := overlayForMode(tc.mode)
		if tc.wantErr {
			if !errors.Is(err, ErrModeResolution) {
				t.Errorf("mode %q: expected ErrModeResolution, got: %v", tc.mode, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("mode %q: unexpected error: %v", tc.mode, err)
			continue
		}
		if overlay != tc.overlay {
			t.Errorf("mode %q: expected overlay %q, got %q", tc.mode, tc.overlay, overlay)
		}
	}
}

// TestLaunch_DefaultModeRunsBaseManifestAlone verifies the baseline
// contract: an explicit default launch requests a default-mode executor
// with no profiles and starts containers with no injected environment.
func TestLaunch_DefaultModeRunsBaseManifestAlone(t *testing.T) {
	t.Parallel()

	launcher, fake, out, _ := newLaunchFixture(t)

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	req := fake.lastRequest(t)
	if req.mode != ModeDefault {
		t.Errorf("expected executor for default mode, got %q", req.mode)
	}
	if len(req.profiles) != 0 {
		t.Errorf("expected no profiles, got %v", req.profiles)
	}

	if len(fake.mock.UpCalls) != 1 {
		t.Fatalf("expected exactly one Up call, got %d", len(fake.mock.UpCalls))
	}
	up := fake.mock.UpCalls[0]
	if up.Env != nil {
		t.Errorf("expected no injected environment, got %v", up.Env)
	}
	if up.ForceBuild {
		t.Error("expected ForceBuild to be off by default")
	}

	if !strings.Contains(out.String(), "up in default mode") {
		t.Errorf("expected launch summary in output, got: %q", out.String())
	}
}

// TestLaunch_UnknownExplicitMode verifies an invalid --mode value fails
// resolution before any executor is built.
func TestLaunch_UnknownExplicitMode(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: RuntimeMode("turbo")})
	if !errors.Is(err, ErrModeResolution) {
		t.Fatalf("expected ErrModeResolution, got: %v", err)
	}
	if len(fake.requests) != 0 {
		t.Errorf("expected no executor requests, got %d", len(fake.requests))
	}
}

// TestLaunch_PinnedPresetSkipsDetection verifies a pinned preset wins over
// auto mode and never touches the hardware profiler.
func TestLaunch_PinnedPresetSkipsDetection(t *testing.T) {
	t.Parallel()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			return healthyStackStatus(false), nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 2
	cfg.Preset.Pinned = config.PresetLowPower

	profiled := false
	profiler := &MockResourceProfiler{
		ProfileFunc: func(ctx context.Context) ResourceProfile {
			profiled = true
			return lowPowerProfile()
		},
	}

	launcher, err := NewDefaultStackLauncher(&cfg, profiler, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	launcher.SetOutput(nil)
	var errOut bytes.Buffer
	launcher.SetErrOutput(&errOut)

	if err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeAuto}); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	if profiled {
		t.Error("expected pinned preset to skip hardware detection")
	}
	if req := fake.lastRequest(t); req.mode != ModeLowPower {
		t.Errorf("expected low-power executor from pinned preset, got %q", req.mode)
	}
	if !strings.Contains(errOut.String(), "pinned preset") {
		t.Errorf("expected pinned-preset notice on operator stream, got: %q", errOut.String())
	}
}

// TestLaunch_AutoModeFollowsRecommendation verifies auto mode profiles the
// host, launches the recommended mode, and explains itself on the
// operator stream rather than stdout.
func TestLaunch_AutoModeFollowsRecommendation(t *testing.T) {
	t.Parallel()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			return healthyStackStatus(false), nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 2

	profiler := &MockResourceProfiler{
		ProfileFunc: func(ctx context.Context) ResourceProfile { return lowPowerProfile() },
	}

	launcher, err := NewDefaultStackLauncher(&cfg, profiler, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	var out, errOut bytes.Buffer
	launcher.SetOutput(&out)
	launcher.SetErrOutput(&errOut)

	if err := launcher.Launch(context.Background(), LaunchOptions{}); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	if req := fake.lastRequest(t); req.mode != ModeLowPower {
		t.Errorf("expected recommended low-power executor, got %q", req.mode)
	}
	if !strings.Contains(errOut.String(), "Auto-selected low-power mode") {
		t.Errorf("expected rationale on operator stream, got: %q", errOut.String())
	}
	if strings.Contains(out.String(), "Auto-selected") {
		t.Error("rationale leaked onto stdout")
	}
}

// TestLaunch_MissingOverlayFailsBeforeContainersStart verifies the hard
// failure for a named mode whose overlay file is absent: the launch
// reports invalid manifests and never issues an up command.
func TestLaunch_MissingOverlayFailsBeforeContainersStart(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	fake.mock.ValidateFilesFunc = func() error {
		return fmt.Errorf("%w: overlays/high-performance.yaml", compose.ErrComposeFileMissing)
	}

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeHighPerformance})
	if !errors.Is(err, ErrManifestsInvalid) {
		t.Fatalf("expected ErrManifestsInvalid, got: %v", err)
	}
	if len(fake.mock.UpCalls) != 0 {
		t.Errorf("expected no Up calls after validation failure, got %d", len(fake.mock.UpCalls))
	}
}

// TestLaunch_EngineBinaryMissing verifies an absent compose binary fails
// before any containers start.
func TestLaunch_EngineBinaryMissing(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	fake.mock.ValidateBinaryFunc = func() error {
		return compose.ErrComposeNotFound
	}

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault})
	if !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got: %v", err)
	}
	if len(fake.mock.UpCalls) != 0 {
		t.Errorf("expected no Up calls, got %d", len(fake.mock.UpCalls))
	}
}

// TestLaunch_ResearchFeatureActivatesProfile verifies the research
// feature flag adds the compose profile and readiness waits for the
// research container to run (health not required for profile services).
func TestLaunch_ResearchFeatureActivatesProfile(t *testing.T) {
	t.Parallel()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			return healthyStackStatus(true), nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 2
	cfg.Features.Research = true

	launcher, err := NewDefaultStackLauncher(&cfg, &MockResourceProfiler{}, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	launcher.SetOutput(nil)
	launcher.SetErrOutput(nil)

	if err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault}); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	req := fake.lastRequest(t)
	if !containsProfile(req.profiles, researchProfile) {
		t.Errorf("expected research profile in executor request, got %v", req.profiles)
	}
}

// TestLaunch_UpFailureSurfacesEngineStderr verifies engine stderr from a
// failed up lands on the operator stream with the wrapped sentinel.
func TestLaunch_UpFailureSurfacesEngineStderr(t *testing.T) {
	t.Parallel()

	launcher, fake, _, errOut := newLaunchFixture(t)
	fake.mock.UpFunc = func(ctx context.Context, opts compose.UpOptions) (*compose.ComposeResult, error) {
		return &compose.ComposeResult{Stderr: "bind: address already in use"},
			errors.New("exit status 1")
	}

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got: %v", err)
	}
	if !strings.Contains(errOut.String(), "address already in use") {
		t.Errorf("expected engine stderr on operator stream, got: %q", errOut.String())
	}
}

// TestLaunch_ReadinessTimeoutListsPending verifies the readiness deadline
// produces an error naming each service still pending and why.
func TestLaunch_ReadinessTimeoutListsPending(t *testing.T) {
	t.Parallel()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			healthy := true
			return &compose.ComposeStatus{
				Services: []compose.ServiceStatus{
					{Name: "forecaster", State: "starting"},
					{Name: "api", State: "running", Healthy: &healthy},
				},
				Running: 1,
			}, nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 1

	launcher, err := NewDefaultStackLauncher(&cfg, &MockResourceProfiler{}, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	launcher.SetOutput(nil)
	launcher.SetErrOutput(nil)

	err = launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault})
	if !errors.Is(err, ErrServicesNotReady) {
		t.Fatalf("expected ErrServicesNotReady, got: %v", err)
	}
	for _, fragment := range []string{"forecaster (starting)", "dashboard (missing)"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected pending detail %q in error, got: %v", fragment, err)
		}
	}
}

// TestLaunch_SkipWaitSkipsStatusPolling verifies --no-wait returns right
// after the up command without querying engine status.
func TestLaunch_SkipWaitSkipsStatusPolling(t *testing.T) {
	t.Parallel()

	statusCalls := 0
	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			statusCalls++
			return healthyStackStatus(false), nil
		},
	}}

	cfg := config.DefaultConfig()
	launcher, err := NewDefaultStackLauncher(&cfg, &MockResourceProfiler{}, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	launcher.SetOutput(nil)
	launcher.SetErrOutput(nil)

	err = launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault, SkipWait: true})
	if err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}
	if statusCalls != 0 {
		t.Errorf("expected no status polling with SkipWait, got %d calls", statusCalls)
	}
}

// TestLaunch_LimitedServicesOnlyWaitsForThose verifies a launch scoped to
// one service does not wait for the rest of the stack.
func TestLaunch_LimitedServicesOnlyWaitsForThose(t *testing.T) {
	t.Parallel()

	fake := &launchFactory{mock: &compose.MockExecutor{
		StatusFunc: func(ctx context.Context) (*compose.ComposeStatus, error) {
			// Only the api container exists; health is not reported.
			return &compose.ComposeStatus{
				Services: []compose.ServiceStatus{{Name: "api", State: "running"}},
				Running:  1,
			}, nil
		},
	}}

	cfg := config.DefaultConfig()
	cfg.Validation.StartupTimeoutSec = 2

	launcher, err := NewDefaultStackLauncher(&cfg, &MockResourceProfiler{}, fake.factory)
	if err != nil {
		t.Fatalf("unexpected error creating launcher: %v", err)
	}
	launcher.SetOutput(nil)
	launcher.SetErrOutput(nil)

	err = launcher.Launch(context.Background(), LaunchOptions{
		Mode:     ModeDefault,
		Services: []string{"signal-api"},
	})
	if err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	if len(fake.mock.UpCalls) != 1 {
		t.Fatalf("expected one Up call, got %d", len(fake.mock.UpCalls))
	}
	if got := fake.mock.UpCalls[0].Services; len(got) != 1 || got[0] != "signal-api" {
		t.Errorf("expected Up limited to signal-api, got %v", got)
	}
}

// TestLaunch_PanicInDependencyIsRecovered verifies a panicking dependency
// surfaces as ErrPanicRecovered instead of crashing the process.
func TestLaunch_PanicInDependencyIsRecovered(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	fake.panicVal = "executor construction blew up"

	err := launcher.Launch(context.Background(), LaunchOptions{Mode: ModeDefault})
	if !errors.Is(err, ErrPanicRecovered) {
		t.Fatalf("expected ErrPanicRecovered, got: %v", err)
	}
}

// TestStop_UsesDefaultLayeringAndReportsCounts verifies stopping works on
// container names independent of launch mode and reports stop counts.
func TestStop_UsesDefaultLayeringAndReportsCounts(t *testing.T) {
	t.Parallel()

	launcher, fake, out, _ := newLaunchFixture(t)
	fake.mock.StopFunc = func(ctx context.Context, opts compose.StopOptions) (*compose.StopResult, error) {
		return &compose.StopResult{
			TotalStopped:    3,
			GracefulStopped: 2,
			ForceStopped:    1,
			ContainerNames:  []string{"signal-forecaster", "signal-api", "signal-dashboard"},
		}, nil
	}

	if err := launcher.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if req := fake.lastRequest(t); req.mode != ModeDefault {
		t.Errorf("expected default-mode executor for stop, got %q", req.mode)
	}
	if !strings.Contains(out.String(), "Stopped 3 containers (2 graceful, 1 forced)") {
		t.Errorf("expected stop counts in output, got: %q", out.String())
	}
}

// TestStatus_BuildsAggregateView verifies the engine status maps onto the
// launcher's aggregate view, including the degraded state and formatted
// port mappings.
func TestStatus_BuildsAggregateView(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	healthy := true
	fake.mock.StatusFunc = func(ctx context.Context) (*compose.ComposeStatus, error) {
		return &compose.ComposeStatus{
			Services: []compose.ServiceStatus{
				{
					Name: "api", ContainerName: "signal-api", State: "running",
					Healthy: &healthy,
					Ports:   []compose.PortMapping{{HostPort: 12300, ContainerPort: 12300, Protocol: "tcp"}},
					Image:   "localhost/aleutiansignal/signal-api:latest",
				},
				{Name: "forecaster", ContainerName: "signal-forecaster", State: "exited"},
			},
			Running: 1,
			Stopped: 1,
		}, nil
	}

	status, err := launcher.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}

	if status.State != "degraded" {
		t.Errorf("expected degraded state, got %q", status.State)
	}
	if status.RunningCount != 1 || status.StoppedCount != 1 {
		t.Errorf("expected counts 1/1, got %d/%d", status.RunningCount, status.StoppedCount)
	}
	if len(status.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(status.Services))
	}
	if got := status.Services[0].Ports; len(got) != 1 || got[0] != "0.0.0.0:12300->12300/tcp" {
		t.Errorf("expected formatted port mapping, got %v", got)
	}
}

// TestStatus_EmptyEngineViewIsStopped verifies an engine with no signal
// containers reports the stack as stopped.
func TestStatus_EmptyEngineViewIsStopped(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	fake.mock.StatusFunc = func(ctx context.Context) (*compose.ComposeStatus, error) {
		return &compose.ComposeStatus{}, nil
	}

	status, err := launcher.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.State != "stopped" {
		t.Errorf("expected stopped state, got %q", status.State)
	}
}

// TestLogs_RejectsInvalidServiceNames verifies injection-unsafe names are
// refused before any executor is built.
func TestLogs_RejectsInvalidServiceNames(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)

	err := launcher.Logs(context.Background(), []string{"../../etc"}, false)
	if !errors.Is(err, ErrInvalidServiceName) {
		t.Fatalf("expected ErrInvalidServiceName, got: %v", err)
	}
	if len(fake.requests) != 0 {
		t.Errorf("expected no executor requests, got %d", len(fake.requests))
	}
}

// TestLogs_PassesOptionsThrough verifies follow mode and service selection
// reach the executor with timestamps enabled.
func TestLogs_PassesOptionsThrough(t *testing.T) {
	t.Parallel()

	launcher, fake, _, _ := newLaunchFixture(t)
	var captured compose.LogsOptions
	fake.mock.LogsFunc = func(ctx context.Context, opts compose.LogsOptions, w io.Writer) error {
		captured = opts
		return nil
	}

	err := launcher.Logs(context.Background(), []string{"signal-api"}, true)
	if err != nil {
		t.Fatalf("unexpected logs error: %v", err)
	}
	if !captured.Follow || !captured.Timestamps {
		t.Errorf("expected follow and timestamps set, got %+v", captured)
	}
	if len(captured.Services) != 1 || captured.Services[0] != "signal-api" {
		t.Errorf("expected signal-api service selection, got %v", captured.Services)
	}
}

// TestValidateServiceName exercises the compose naming rules.
func TestValidateServiceName(t *testing.T) {
	t.Parallel()

	valid := []string{"signal-api", "signal-forecaster", "a", "db_1"}
	for _, name := range valid {
		if err := validateServiceName(name); err != nil {
			t.Errorf("expected %q to be valid, got: %v", name, err)
		}
	}

	invalid := []string{"", "Signal-API", "../etc", "a b", "-leading", strings.Repeat("x", 64)}
	for _, name := range invalid {
		if !errors.Is(validateServiceName(name), ErrInvalidServiceName) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

// TestEvaluateReadiness exercises the per-service readiness rules.
func TestEvaluateReadiness(t *testing.T) {
	t.Parallel()

	healthy := true
	unhealthy := false

	cases := []struct {
		name        string
		status      *compose.ComposeStatus
		expected    []expectedService
		wantReady   bool
		wantPending string
	}{
		{
			name:      "all ready",
			status:    healthyStackStatus(false),
			expected:  []expectedService{{name: "forecaster", requireHealthy: true}},
			wantReady: true,
		},
		{
			name:        "service missing",
			status:      &compose.ComposeStatus{Services: []compose.ServiceStatus{}},
			expected:    []expectedService{{name: "api"}},
			wantPending: "api (missing)",
		},
		{
			name: "not running",
			status: &compose.ComposeStatus{Services: []compose.ServiceStatus{
				{Name: "api", State: "created"},
			}},
			expected:    []expectedService{{name: "api"}},
			wantPending: "api (created)",
		},
		{
			name: "failing health check",
			status: &compose.ComposeStatus{Services: []compose.ServiceStatus{
				{Name: "api", State: "running", Healthy: &unhealthy},
			}},
			expected:    []expectedService{{name: "api"}},
			wantPending: "api (unhealthy)",
		},
		{
			name: "health pending when required",
			status: &compose.ComposeStatus{Services: []compose.ServiceStatus{
				{Name: "api", State: "running"},
			}},
			expected:    []expectedService{{name: "api", requireHealthy: true}},
			wantPending: "api (health pending)",
		},
		{
			name: "running is enough when health not required",
			status: &compose.ComposeStatus{Services: []compose.ServiceStatus{
				{Name: "research", State: "running"},
			}},
			expected:  []expectedService{{name: "research"}},
			wantReady: true,
		},
		{
			name: "healthy satisfies requirement",
			status: &compose.ComposeStatus{Services: []compose.ServiceStatus{
				{Name: "api", State: "running", Healthy: &healthy},
			}},
			expected:  []expectedService{{name: "api", requireHealthy: true}},
			wantReady: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ready, pending := evaluateReadiness(tc.status, tc.expected)
			if ready != tc.wantReady {
				t.Errorf("expected ready=%v, got %v (pending: %v)", tc.wantReady, ready, pending)
			}
			if tc.wantPending != "" {
				if len(pending) == 0 || pending[0] != tc.wantPending {
					t.Errorf("expected pending %q, got %v", tc.wantPending, pending)
				}
			}
		})
	}
}
