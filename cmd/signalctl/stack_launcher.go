// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package main provides StackLauncher for orchestrating signal stack lifecycle.

StackLauncher is the primary orchestrator that coordinates stack operations:
runtime mode resolution, manifest layering, container orchestration, and
readiness verification.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                      StackLauncher                         │
	│  (Orchestrates launch, stop, status, logs)                 │
	├────────────────────────────────────────────────────────────┤
	│                                                            │
	│  Launch() sequence:                                        │
	│    1. resolveMode()          // explicit, pinned, or auto  │
	│    2. composeFactory()       // executor for the mode      │
	│    3. validateEngine()       // binary + manifest files    │
	│    4. startContainers()      // compose up                 │
	│    5. waitForReady()         // engine-level readiness     │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Mode Semantics

default runs the base manifest alone, exactly as invoking the engine by
hand would: no overlay flag, no injected environment. low-power and
high-performance append their overlay as the last -f so its limits take
precedence. auto profiles the host, prints the recommendation rationale
to the operator stream, and launches the resolved mode. A missing overlay
for a named mode is a hard failure, never a silent fallback.

# Thread Safety

StackLauncher is safe for concurrent use. Mutating operations (Launch,
Stop) are serialized via mutex.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/compose"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrEngineNotReady is returned when the container engine is unusable.
	ErrEngineNotReady = errors.New("container engine not ready")

	// ErrManifestsInvalid is returned when a configured manifest is missing.
	ErrManifestsInvalid = errors.New("compose manifests invalid")

	// ErrModeResolution is returned when a runtime mode cannot be resolved.
	ErrModeResolution = errors.New("runtime mode resolution failed")

	// ErrLaunchFailed is returned when container startup fails.
	ErrLaunchFailed = errors.New("stack launch failed")

	// ErrServicesNotReady is returned when services miss the readiness window.
	ErrServicesNotReady = errors.New("services not ready")

	// ErrInvalidServiceName is returned when a service name contains invalid characters.
	ErrInvalidServiceName = errors.New("invalid service name")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrPanicRecovered is returned when a panic was recovered during an operation.
	ErrPanicRecovered = errors.New("panic recovered during operation")
)

// =============================================================================
// Constants and Patterns
// =============================================================================

// researchProfile gates the optional research sandbox service.
const researchProfile = "research"

// Readiness polling backoff bounds.
const (
	readyInitialInterval   = 1 * time.Second
	readyMaxInterval       = 8 * time.Second
	readyBackoffMultiplier = 2.0
)

// serviceNamePattern validates compose service names.
// Per compose spec: lowercase letters, digits, hyphens, and underscores.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// =============================================================================
// StackLauncher Interface
// =============================================================================

// StackLauncher orchestrates the signal stack lifecycle.
//
// # Description
//
// This interface abstracts stack operations for command handlers and
// tests. The default implementation delegates container work to a
// compose.Executor built per launch from the resolved runtime mode.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type StackLauncher interface {
	// Launch resolves the runtime mode and starts the stack.
	//
	// # Description
	//
	// Runs the phased startup sequence: mode resolution, engine
	// validation, container orchestration, and readiness verification.
	// The default mode launches the base manifest exactly as a direct
	// engine invocation would.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - opts: Launch options (mode, build, profiles, wait behavior)
	//
	// # Outputs
	//
	//   - error: Non-nil if any phase fails; wraps a sentinel error
	Launch(ctx context.Context, opts LaunchOptions) error

	// Stop halts all stack containers.
	//
	// # Description
	//
	// Graceful stop with force escalation, independent of the mode the
	// stack was launched in.
	//
	// # Outputs
	//
	//   - error: Non-nil if containers could not be stopped
	Stop(ctx context.Context) error

	// Status reports the current stack state.
	//
	// # Outputs
	//
	//   - *StackStatus: Aggregate and per-service state
	//   - error: Non-nil if the engine cannot be queried
	Status(ctx context.Context) (*StackStatus, error)

	// Logs streams container logs to the configured output writer.
	//
	// # Inputs
	//
	//   - services: Service names to stream (empty = all)
	//   - follow: Stream continuously until the context is cancelled
	//
	// # Outputs
	//
	//   - error: Non-nil if streaming fails to start
	Logs(ctx context.Context, services []string, follow bool) error
}

// ComposeFactoryFunc builds a compose executor for a resolved mode.
//
// The launcher constructs a fresh executor per operation so the overlay
// layering always reflects the mode being launched.
type ComposeFactoryFunc func(mode RuntimeMode, profiles []string) (compose.Executor, error)

// =============================================================================
// Supporting Types
// =============================================================================

// LaunchOptions configures stack launch behavior.
type LaunchOptions struct {
	// Mode selects the runtime mode. Empty or ModeAuto triggers
	// detection (pinned preset first, then hardware recommendation).
	Mode RuntimeMode

	// ForceBuild rebuilds images before starting.
	ForceBuild bool

	// ExtraProfiles are additional compose profiles to activate.
	ExtraProfiles []string

	// Services limits the launch to specific compose services.
	// Empty starts everything the active profiles define.
	Services []string

	// SkipWait skips the readiness verification phase.
	SkipWait bool
}

// StackStatus describes the aggregate state of the stack.
type StackStatus struct {
	// State is the overall state: "running", "degraded", or "stopped".
	State string

	// RunningCount is the number of running containers.
	RunningCount int

	// StoppedCount is the number of exited containers.
	StoppedCount int

	// UnhealthyCount is the number of containers failing health checks.
	UnhealthyCount int

	// Services holds per-service details.
	Services []StackServiceInfo
}

// StackServiceInfo describes one service in the stack.
type StackServiceInfo struct {
	// Name is the short service name ("forecaster", "api", "dashboard").
	Name string

	// ContainerName is the full container name.
	ContainerName string

	// State is the container state reported by the engine.
	State string

	// Healthy is the health check result (nil = no health reported).
	Healthy *bool

	// Ports are formatted port mappings.
	Ports []string

	// Image is the container image reference.
	Image string
}

// expectedService pairs a service name with its readiness requirement.
type expectedService struct {
	name           string
	requireHealthy bool
}

// =============================================================================
// Output Helpers
// =============================================================================

// discardWriter silently accepts all writes.
type discardWriter struct{}

// Write implements io.Writer, discarding all data.
func (discardWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// safeWrite writes to the output writer, using discard if nil.
func safeWrite(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// validateServiceName checks if a service name is safe for compose operations.
//
// # Description
//
// Validates service names against compose naming rules to prevent
// injection attacks or undefined behavior.
//
// # Examples
//
//	err := validateServiceName("signal-api")  // nil
//	err := validateServiceName("../../etc")   // ErrInvalidServiceName
func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty service name", ErrInvalidServiceName)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: service name exceeds 63 characters", ErrInvalidServiceName)
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidServiceName, name)
	}
	return nil
}

// validateServiceNames checks all service names, stopping at the first invalid.
func validateServiceNames(names []string) error {
	for _, name := range names {
		if err := validateServiceName(name); err != nil {
			return err
		}
	}
	return nil
}

// recoverPanic converts a recovered panic into an error.
//
// # Description
//
// Used with defer in mutating operations so a panic releases the mutex
// and surfaces as ErrPanicRecovered instead of crashing the process.
//
// # Examples
//
//	func (l *DefaultStackLauncher) SomeMethod() (err error) {
//	    defer func() {
//	        recoverPanic(recover(), &err)
//	    }()
//	    // ... method body
//	}
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}

	var panicErr error
	switch v := r.(type) {
	case error:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	case string:
		panicErr = fmt.Errorf("%w: %s", ErrPanicRecovered, v)
	default:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	}

	if *errPtr == nil {
		*errPtr = panicErr
	}
}

// sleepWithContext sleeps for the given duration or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultStackLauncher implements StackLauncher over a per-mode compose
// executor.
//
// # Description
//
// Production implementation. The compose executor is built fresh per
// operation through composeFactory so file layering always matches the
// resolved mode. Mode resolution consults the pinned preset first, then
// the hardware recommender.
//
// # Thread Safety
//
// Safe for concurrent use. Launch and Stop are serialized with a mutex.
type DefaultStackLauncher struct {
	// config is the loaded signal configuration.
	config *config.SignalConfig

	// profiler detects host capacity for auto mode.
	profiler ResourceProfiler

	// composeFactory builds a compose executor for a resolved mode.
	composeFactory ComposeFactoryFunc

	// output is where status messages are written. Default: os.Stdout
	output io.Writer

	// errOutput carries operator messages such as the auto-mode
	// rationale. Default: os.Stderr
	errOutput io.Writer

	// mu serializes mutating operations (Launch, Stop).
	mu sync.Mutex
}

// NewDefaultStackLauncher creates a launcher with all dependencies.
//
// # Inputs
//
//   - cfg: Loaded signal configuration (required)
//   - profiler: ResourceProfiler for auto mode (required)
//   - composeFactory: Executor factory per mode (required)
//
// # Outputs
//
//   - *DefaultStackLauncher: Ready-to-use launcher
//   - error: ErrNilDependency if any dependency is nil
//
// # Examples
//
//	launcher, err := NewDefaultStackLauncher(
//	    &config.Global,
//	    NewDefaultResourceProfiler(detector),
//	    factory.CreateComposeExecutor,
//	)
func NewDefaultStackLauncher(
	cfg *config.SignalConfig,
	profiler ResourceProfiler,
	composeFactory ComposeFactoryFunc,
) (*DefaultStackLauncher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: SignalConfig", ErrNilDependency)
	}
	if profiler == nil {
		return nil, fmt.Errorf("%w: ResourceProfiler", ErrNilDependency)
	}
	if composeFactory == nil {
		return nil, fmt.Errorf("%w: ComposeFactoryFunc", ErrNilDependency)
	}

	return &DefaultStackLauncher{
		config:         cfg,
		profiler:       profiler,
		composeFactory: composeFactory,
		output:         os.Stdout,
		errOutput:      os.Stderr,
	}, nil
}

// SetOutput configures the writer for status messages.
//
// Default is os.Stdout. A nil writer discards output.
func (l *DefaultStackLauncher) SetOutput(w io.Writer) {
	if w == nil {
		l.output = discardWriter{}
	} else {
		l.output = w
	}
}

// SetErrOutput configures the writer for operator messages.
//
// Default is os.Stderr. A nil writer discards output.
func (l *DefaultStackLauncher) SetErrOutput(w io.Writer) {
	if w == nil {
		l.errOutput = discardWriter{}
	} else {
		l.errOutput = w
	}
}

// Launch resolves the runtime mode and starts the stack.
//
// See interface documentation for full details.
func (l *DefaultStackLauncher) Launch(ctx context.Context, opts LaunchOptions) (err error) {
	// Serialize mutating operations to prevent concurrent launches.
	l.mu.Lock()
	defer l.mu.Unlock()

	// Recover from panics to prevent deadlocks and ensure error propagation.
	defer func() {
		recoverPanic(recover(), &err)
	}()

	startTime := time.Now()

	// Phase 1: Runtime mode resolution
	mode, err := l.resolveMode(ctx, opts)
	if err != nil {
		return err
	}

	// Phase 2: Engine construction for the mode
	profiles := l.resolveProfiles(opts)
	executor, err := l.buildExecutor(mode, profiles)
	if err != nil {
		return err
	}

	// Phase 3: Engine and manifest validation
	if err := l.validateEngine(executor); err != nil {
		return err
	}

	// Phase 4: Container orchestration
	if err := l.startContainers(ctx, executor, opts, mode); err != nil {
		return err
	}

	// Phase 5: Readiness verification
	if err := l.waitForReady(ctx, executor, opts, profiles); err != nil {
		return err
	}

	l.printLaunchSummary(startTime, mode)
	return nil
}

// =============================================================================
// Launch Phase Helpers
// =============================================================================

// resolveMode determines the concrete runtime mode for this launch.
//
// # Description
//
// Resolution order: explicit mode from options, pinned preset from
// configuration, hardware recommendation. The recommendation rationale
// goes to the operator stream so machine-readable stdout stays clean.
//
// # Outputs
//
//   - RuntimeMode: Always a concrete mode, never auto
//   - error: ErrModeResolution if an explicit or pinned value is invalid
func (l *DefaultStackLauncher) resolveMode(ctx context.Context, opts LaunchOptions) (RuntimeMode, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if opts.Mode != "" && opts.Mode != ModeAuto {
		if !opts.Mode.IsConcrete() {
			return "", fmt.Errorf("%w: unknown mode %q", ErrModeResolution, opts.Mode)
		}
		return opts.Mode, nil
	}

	if pinned := l.config.Preset.Pinned; pinned != "" {
		mode, err := ParseRuntimeMode(string(pinned))
		if err != nil {
			return "", fmt.Errorf("%w: pinned preset %q", ErrModeResolution, pinned)
		}
		safeWrite(l.errOutput, "Using pinned preset: %s\n", mode)
		return mode, nil
	}

	rec := RecommendPreset(l.profiler.Profile(ctx))
	safeWrite(l.errOutput, "Auto-selected %s mode: %s\n", rec.Mode, rec.Reason)
	return rec.Mode, nil
}

// resolveProfiles merges option profiles with configuration features.
func (l *DefaultStackLauncher) resolveProfiles(opts LaunchOptions) []string {
	profiles := append([]string(nil), opts.ExtraProfiles...)
	if l.config.Features.Research && !containsProfile(profiles, researchProfile) {
		profiles = append(profiles, researchProfile)
	}
	return profiles
}

// containsProfile reports whether the profile list already holds name.
func containsProfile(profiles []string, name string) bool {
	for _, p := range profiles {
		if p == name {
			return true
		}
	}
	return false
}

// buildExecutor constructs the compose executor for the resolved mode.
func (l *DefaultStackLauncher) buildExecutor(mode RuntimeMode, profiles []string) (compose.Executor, error) {
	executor, err := l.composeFactory(mode, profiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	return executor, nil
}

// validateEngine verifies the engine binary and manifest files up front.
//
// # Description
//
// Both checks run before any engine invocation so a failed launch has
// zero side effects. A missing overlay for a named mode fails here
// rather than silently degrading to the base manifest.
func (l *DefaultStackLauncher) validateEngine(executor compose.Executor) error {
	safeWrite(l.output, "Checking engine...\n")

	if err := executor.ValidateBinary(); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	if err := executor.ValidateFiles(); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestsInvalid, err)
	}
	return nil
}

// startContainers brings up the stack via the engine.
//
// # Description
//
// Delegates to compose up with the mode's file layering already baked
// into the executor. No environment is injected: the manifests carry
// their own values, so the default mode is indistinguishable from a
// direct engine invocation.
func (l *DefaultStackLauncher) startContainers(ctx context.Context, executor compose.Executor, opts LaunchOptions, mode RuntimeMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safeWrite(l.output, "Starting containers in %s mode...\n", mode)

	result, err := executor.Up(ctx, compose.UpOptions{
		ForceBuild: opts.ForceBuild,
		Services:   opts.Services,
	})
	if err != nil {
		if result != nil && result.Stderr != "" {
			safeWrite(l.errOutput, "%s\n", strings.TrimSpace(result.Stderr))
		}
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	return nil
}

// waitForReady polls the engine until every expected service is ready.
//
// # Description
//
// Exponential backoff polling of engine status. Core services must
// report a passing health check; profile-gated services only need to be
// running. Status query failures are retried until the deadline.
//
// # Limitations
//
//   - Engine-level readiness only; deep endpoint checks are the
//     validate command's job
func (l *DefaultStackLauncher) waitForReady(ctx context.Context, executor compose.Executor, opts LaunchOptions, profiles []string) error {
	if opts.SkipWait {
		safeWrite(l.output, "Skipping readiness wait\n")
		return nil
	}

	timeout := l.config.Validation.GetStartupTimeout()
	safeWrite(l.output, "Waiting up to %s for services...\n", timeout)

	expected := l.expectedServices(opts, profiles)
	deadline := time.Now().Add(timeout)
	interval := readyInitialInterval
	lastPending := []string{"status unavailable"}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := executor.Status(ctx)
		if err == nil {
			ready, pending := evaluateReadiness(status, expected)
			if ready {
				safeWrite(l.output, "  All services ready\n")
				return nil
			}
			lastPending = pending
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out after %s (pending: %s)",
				ErrServicesNotReady, timeout, strings.Join(lastPending, ", "))
		}

		if err := sleepWithContext(ctx, interval); err != nil {
			return err
		}
		interval = nextReadyInterval(interval)
	}
}

// expectedServices lists the services this launch must bring up.
func (l *DefaultStackLauncher) expectedServices(opts LaunchOptions, profiles []string) []expectedService {
	if len(opts.Services) > 0 {
		expected := make([]expectedService, 0, len(opts.Services))
		for _, s := range opts.Services {
			expected = append(expected, expectedService{name: shortServiceName(s)})
		}
		return expected
	}

	expected := make([]expectedService, 0, len(roleOrder)+1)
	for _, role := range roleOrder {
		expected = append(expected, expectedService{
			name:           shortServiceName(role.ComposeService()),
			requireHealthy: true,
		})
	}
	if containsProfile(profiles, researchProfile) {
		expected = append(expected, expectedService{name: researchProfile})
	}
	return expected
}

// evaluateReadiness checks engine status against the expected services.
//
// Returns readiness plus the names of services still pending, annotated
// with why they are pending.
func evaluateReadiness(status *compose.ComposeStatus, expected []expectedService) (bool, []string) {
	byName := make(map[string]compose.ServiceStatus, len(status.Services))
	for _, svc := range status.Services {
		byName[svc.Name] = svc
	}

	var pending []string
	for _, want := range expected {
		svc, found := byName[want.name]
		switch {
		case !found:
			pending = append(pending, want.name+" (missing)")
		case svc.State != "running":
			pending = append(pending, fmt.Sprintf("%s (%s)", want.name, svc.State))
		case svc.Healthy != nil && !*svc.Healthy:
			pending = append(pending, want.name+" (unhealthy)")
		case want.requireHealthy && svc.Healthy == nil:
			pending = append(pending, want.name+" (health pending)")
		}
	}
	return len(pending) == 0, pending
}

// nextReadyInterval grows the polling interval up to the cap.
func nextReadyInterval(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * readyBackoffMultiplier)
	if next > readyMaxInterval {
		return readyMaxInterval
	}
	return next
}

// shortServiceName strips the stack prefix from a compose service name.
func shortServiceName(service string) string {
	return strings.TrimPrefix(service, containerNamePrefix)
}

// printLaunchSummary reports the endpoints after a successful launch.
func (l *DefaultStackLauncher) printLaunchSummary(startTime time.Time, mode RuntimeMode) {
	safeWrite(l.output, "\nSignal stack is up in %s mode (%s)\n",
		mode, time.Since(startTime).Round(time.Millisecond))
	safeWrite(l.output, "  API:        %s\n", l.config.Endpoints.GetAPIBaseURL())
	safeWrite(l.output, "  Dashboard:  %s\n", l.config.Endpoints.GetDashboardURL())
	safeWrite(l.output, "  Forecaster: %s\n", l.config.Endpoints.GetForecasterURL())
}

// =============================================================================
// Stop
// =============================================================================

// Stop halts all stack containers.
//
// See interface documentation for full details.
func (l *DefaultStackLauncher) Stop(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	startTime := time.Now()
	safeWrite(l.output, "Stopping signal stack...\n")

	// Stopping works on container names, so the mode the stack was
	// launched in does not matter here.
	executor, err := l.buildExecutor(ModeDefault, nil)
	if err != nil {
		return err
	}

	result, err := executor.Stop(ctx, compose.StopOptions{})
	if err != nil {
		return fmt.Errorf("stack stop failed: %w", err)
	}

	l.logStopResult(result)
	safeWrite(l.output, "Stack stopped in %s\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// logStopResult reports stop counts and any per-container warnings.
func (l *DefaultStackLauncher) logStopResult(result *compose.StopResult) {
	if result == nil {
		return
	}

	safeWrite(l.output, "  Stopped %d containers (%d graceful, %d forced)\n",
		result.TotalStopped, result.GracefulStopped, result.ForceStopped)

	for _, msg := range result.Errors {
		safeWrite(l.errOutput, "  warning: %s\n", msg)
	}
}

// =============================================================================
// Status
// =============================================================================

// Status reports the current stack state.
//
// See interface documentation for full details.
func (l *DefaultStackLauncher) Status(ctx context.Context) (*StackStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	executor, err := l.buildExecutor(ModeDefault, nil)
	if err != nil {
		return nil, err
	}

	composeStatus, err := executor.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query engine: %w", err)
	}

	return buildStackStatus(composeStatus), nil
}

// buildStackStatus converts engine status into the launcher's view.
func buildStackStatus(composeStatus *compose.ComposeStatus) *StackStatus {
	status := &StackStatus{
		State:          determineStackState(composeStatus),
		RunningCount:   composeStatus.Running,
		StoppedCount:   composeStatus.Stopped,
		UnhealthyCount: composeStatus.Unhealthy,
		Services:       make([]StackServiceInfo, 0, len(composeStatus.Services)),
	}

	for _, svc := range composeStatus.Services {
		status.Services = append(status.Services, StackServiceInfo{
			Name:          svc.Name,
			ContainerName: svc.ContainerName,
			State:         svc.State,
			Healthy:       svc.Healthy,
			Ports:         formatPortMappings(svc.Ports),
			Image:         svc.Image,
		})
	}

	return status
}

// determineStackState derives the aggregate state from engine counts.
func determineStackState(composeStatus *compose.ComposeStatus) string {
	switch {
	case len(composeStatus.Services) == 0, composeStatus.Running == 0:
		return "stopped"
	case composeStatus.Stopped > 0, composeStatus.Unhealthy > 0:
		return "degraded"
	default:
		return "running"
	}
}

// formatPortMappings renders port mappings as host:port->port/proto strings.
func formatPortMappings(ports []compose.PortMapping) []string {
	formatted := make([]string, 0, len(ports))
	for _, p := range ports {
		host := p.HostIP
		if host == "" {
			host = "0.0.0.0"
		}
		formatted = append(formatted, fmt.Sprintf("%s:%d->%d/%s",
			host, p.HostPort, p.ContainerPort, p.Protocol))
	}
	return formatted
}

// =============================================================================
// Logs
// =============================================================================

// Logs streams container logs to the configured output writer.
//
// See interface documentation for full details.
func (l *DefaultStackLauncher) Logs(ctx context.Context, services []string, follow bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Validate service names to prevent injection attacks.
	if len(services) > 0 {
		if err := validateServiceNames(services); err != nil {
			return fmt.Errorf("invalid service name: %w", err)
		}
	}

	executor, err := l.buildExecutor(ModeDefault, nil)
	if err != nil {
		return err
	}

	return executor.Logs(ctx, compose.LogsOptions{
		Follow:     follow,
		Services:   services,
		Timestamps: true,
	}, l.output)
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockStackLauncher is a test double for StackLauncher.
//
// # Description
//
// Provides a configurable mock implementation for testing.
// Each method can be configured with a custom function.
// Tracks all calls for verification.
//
// # Thread Safety
//
// Safe for concurrent use. Call tracking uses mutex.
//
// # Examples
//
//	mock := &MockStackLauncher{
//	    LaunchFunc: func(ctx context.Context, opts LaunchOptions) error {
//	        return nil // success
//	    },
//	}
//	err := mock.Launch(ctx, LaunchOptions{})
//	if len(mock.LaunchCalls) != 1 {
//	    t.Fatal("expected one Launch call")
//	}
type MockStackLauncher struct {
	// LaunchFunc is called when Launch is invoked.
	LaunchFunc func(ctx context.Context, opts LaunchOptions) error

	// StopFunc is called when Stop is invoked.
	StopFunc func(ctx context.Context) error

	// StatusFunc is called when Status is invoked.
	StatusFunc func(ctx context.Context) (*StackStatus, error)

	// LogsFunc is called when Logs is invoked.
	LogsFunc func(ctx context.Context, services []string, follow bool) error

	// LaunchCalls records all Launch invocations.
	LaunchCalls []LaunchOptions

	// StopCalls records the number of Stop invocations.
	StopCalls int

	// StatusCalls records the number of Status invocations.
	StatusCalls int

	// LogsCalls records all Logs invocations.
	LogsCalls [][]string

	// mu protects call tracking.
	mu sync.Mutex
}

// Launch implements StackLauncher.
func (m *MockStackLauncher) Launch(ctx context.Context, opts LaunchOptions) error {
	m.mu.Lock()
	m.LaunchCalls = append(m.LaunchCalls, opts)
	m.mu.Unlock()

	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx, opts)
	}
	return nil
}

// Stop implements StackLauncher.
func (m *MockStackLauncher) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.StopCalls++
	m.mu.Unlock()

	if m.StopFunc != nil {
		return m.StopFunc(ctx)
	}
	return nil
}

// Status implements StackLauncher.
func (m *MockStackLauncher) Status(ctx context.Context) (*StackStatus, error) {
	m.mu.Lock()
	m.StatusCalls++
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &StackStatus{State: "running"}, nil
}

// Logs implements StackLauncher.
func (m *MockStackLauncher) Logs(ctx context.Context, services []string, follow bool) error {
	m.mu.Lock()
	m.LogsCalls = append(m.LogsCalls, services)
	m.mu.Unlock()

	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, services, follow)
	}
	return nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ StackLauncher = (*DefaultStackLauncher)(nil)
var _ StackLauncher = (*MockStackLauncher)(nil)
