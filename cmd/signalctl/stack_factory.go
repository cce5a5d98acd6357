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
	"fmt"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/compose"
	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/process"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Stack identity shared by every engine invocation.
const (
	containerNamePrefix = "signal-"
	baseComposeFile     = "podman-compose.yaml"
)

// Overlay manifests, relative to the stack directory. The default mode has
// no overlay: the base manifest runs exactly as written.
const (
	lowPowerOverlay        = "overlays/low-power.yaml"
	highPerformanceOverlay = "overlays/high-performance.yaml"
)

// overlayForMode maps a concrete runtime mode to its overlay manifest.
//
// # Description
//
// Returns the overlay path for named modes and the empty string for the
// default mode. The empty string means no -f beyond the base manifest, so
// a default launch is indistinguishable from a direct engine invocation.
//
// # Outputs
//
//   - string: Overlay path relative to the stack directory, or "" for default.
//   - error: ErrModeResolution for auto or unknown modes.
func overlayForMode(mode RuntimeMode) (string, error) {
	switch mode {
	case ModeDefault:
		return "", nil
	case ModeLowPower:
		return lowPowerOverlay, nil
	case ModeHighPerformance:
		return highPerformanceOverlay, nil
	default:
		return "", fmt.Errorf("%w: no overlay mapping for mode %q", ErrModeResolution, mode)
	}
}

// =============================================================================
// INTERFACES
// =============================================================================

// StackFactory creates StackLauncher instances with all required dependencies.
//
// This interface enables dependency injection for testing - production code
// uses DefaultStackFactory, while tests can provide mock implementations.
type StackFactory interface {
	// CreateStackLauncher builds a fully configured StackLauncher.
	//
	// # Description
	//
	// Wires together all components required by StackLauncher:
	// ProcessManager, ResourceProfiler, and a per-mode compose executor
	// factory carrying the stack's file layering.
	//
	// # Inputs
	//
	//   - cfg: The global signal configuration containing all settings.
	//
	// # Outputs
	//
	//   - StackLauncher: Ready-to-use launcher with all dependencies wired.
	//   - error: Non-nil if any dependency creation fails.
	CreateStackLauncher(cfg *config.SignalConfig) (StackLauncher, error)
}

// =============================================================================
// STRUCTS
// =============================================================================

// DefaultStackFactory is the production implementation of StackFactory.
//
// It creates real implementations of all StackLauncher dependencies including
// ProcessManager, HardwareDetector, ResourceProfiler, and compose executors.
type DefaultStackFactory struct{}

// =============================================================================
// METHODS
// =============================================================================

// NewDefaultStackFactory creates a new DefaultStackFactory instance.
//
// # Description
//
// Returns a factory that produces StackLaunchers with real production
// dependencies. Use this in production code; use mock factories in tests.
//
// # Inputs
//
// None.
//
// # Outputs
//
//   - *DefaultStackFactory: A factory instance ready to create StackLaunchers.
//
// # Examples
//
//	factory := NewDefaultStackFactory()
//	launcher, err := factory.CreateStackLauncher(&config.Global)
//
// # Limitations
//
//   - Creates all dependencies even if only some are needed.
//   - Not suitable for unit tests; use mock factories instead.
//
// # Assumptions
//
//   - None.
func NewDefaultStackFactory() *DefaultStackFactory {
	return &DefaultStackFactory{}
}

// CreateStackLauncher builds a fully configured StackLauncher with production dependencies.
//
// # Description
//
// This method wires together all components required by StackLauncher in
// the correct order, respecting dependency relationships:
//
//	ProcessManager -> HardwareDetector -> ResourceProfiler ->
//	ComposeFactoryFunc -> StackLauncher
//
// The compose executor is not created here: the launcher builds one per
// operation through the factory closure, so the overlay layering always
// matches the mode being launched.
//
// # Inputs
//
//   - cfg: The global signal configuration containing:
//   - Stack settings (directory, project name)
//   - Preset settings (pinned mode)
//   - Feature flags (research profile)
//   - Validation settings (startup timeout)
//
// # Outputs
//
//   - StackLauncher: Ready-to-use launcher with all dependencies wired.
//   - error: Non-nil if any dependency creation fails, with wrapped context.
//
// # Examples
//
//	factory := NewDefaultStackFactory()
//	launcher, err := factory.CreateStackLauncher(&config.Global)
//	if err != nil {
//	    log.Fatalf("Failed to create stack launcher: %v", err)
//	}
//	err = launcher.Launch(ctx, opts)
//
// # Limitations
//
//   - Not suitable for unit tests; use mock implementations instead.
//
// # Assumptions
//
//   - Config is valid and loaded.
//   - The stack directory exists and contains the base manifest.
func (f *DefaultStackFactory) CreateStackLauncher(cfg *config.SignalConfig) (StackLauncher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: SignalConfig", ErrNilDependency)
	}

	proc := f.createProcessManager()
	profiler := f.createResourceProfiler(proc)

	composeFactory := func(mode RuntimeMode, profiles []string) (compose.Executor, error) {
		return f.createComposeExecutor(cfg, mode, profiles, proc)
	}

	launcher, err := NewDefaultStackLauncher(cfg, profiler, composeFactory)
	if err != nil {
		return nil, fmt.Errorf("failed to create stack launcher: %w", err)
	}

	return launcher, nil
}

// CreateGuardrailValidator builds a guardrail validator sharing the
// launcher's compose layering.
//
// # Description
//
// The validator gets the same per-mode executor factory a launch would
// use, so guardrail renders exercise the identical base-plus-overlay
// file set. No containers are started through this path.
//
// # Inputs
//
//   - cfg: Configuration carrying the stack directory and project name.
//
// # Outputs
//
//   - GuardrailValidator: Ready-to-use validator.
//   - error: Non-nil if any dependency creation fails.
func (f *DefaultStackFactory) CreateGuardrailValidator(cfg *config.SignalConfig) (GuardrailValidator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: SignalConfig", ErrNilDependency)
	}

	proc := f.createProcessManager()
	composeFactory := func(mode RuntimeMode, profiles []string) (compose.Executor, error) {
		return f.createComposeExecutor(cfg, mode, profiles, proc)
	}

	return NewDefaultGuardrailValidator(composeFactory)
}

// createProcessManager creates a ProcessManager for command execution.
//
// # Description
//
// Creates the foundation component for all external command execution.
// ProcessManager is used by the compose executor and hardware detection
// to run podman-compose, sysctl, etc.
//
// # Outputs
//
//   - process.Manager: Ready-to-use process manager.
func (f *DefaultStackFactory) createProcessManager() process.Manager {
	return process.NewDefaultManager()
}

// createResourceProfiler creates a ResourceProfiler for host capacity detection.
//
// # Description
//
// Creates the profiler used by auto mode to recommend a runtime mode.
// Detection degrades per field rather than failing, so the profiler is
// safe to create on any platform.
//
// # Inputs
//
//   - proc: process.Manager for hardware detection commands (sysctl, vm_stat).
//
// # Outputs
//
//   - ResourceProfiler: Ready-to-use resource profiler.
func (f *DefaultStackFactory) createResourceProfiler(proc process.Manager) ResourceProfiler {
	detector := NewDefaultHardwareDetector(proc)
	return NewDefaultResourceProfiler(detector)
}

// createComposeExecutor creates a compose executor for one runtime mode.
//
// # Description
//
// Builds the executor with the mode's file layering: base manifest first,
// overlay (if any) last so its values win. Named modes get their overlay
// from overlayForMode; the default mode gets none.
//
// # Inputs
//
//   - cfg: Configuration carrying the stack directory and project name.
//   - mode: Concrete runtime mode selecting the overlay.
//   - profiles: Compose profiles to activate (e.g. "research").
//   - proc: process.Manager for executing compose commands.
//
// # Outputs
//
//   - compose.Executor: Ready-to-use compose executor.
//   - error: Non-nil if the mode has no overlay mapping or creation fails.
//
// # Limitations
//
//   - Requires podman-compose in PATH at execution time, not creation time.
func (f *DefaultStackFactory) createComposeExecutor(
	cfg *config.SignalConfig,
	mode RuntimeMode,
	profiles []string,
	proc process.Manager,
) (compose.Executor, error) {
	overlay, err := overlayForMode(mode)
	if err != nil {
		return nil, err
	}

	composeConfig := compose.ComposeConfig{
		StackDir:            cfg.Stack.GetDir(),
		ProjectName:         cfg.Stack.GetProjectName(),
		BaseFile:            baseComposeFile,
		OverlayFile:         overlay,
		Profiles:            profiles,
		ContainerNamePrefix: containerNamePrefix,
	}
	return compose.NewDefaultExecutor(composeConfig, proc)
}

// =============================================================================
// PACKAGE-LEVEL FACTORY FUNCTION
// =============================================================================

// CreateProductionStackLauncher creates a StackLauncher with all production dependencies.
//
// # Description
//
// Convenience function that creates a DefaultStackFactory and uses it to
// build a StackLauncher. This is the primary entry point for CLI code.
//
// # Inputs
//
//   - cfg: The global signal configuration containing all settings.
//
// # Outputs
//
//   - StackLauncher: Ready-to-use launcher with all dependencies wired.
//   - error: Non-nil if any dependency creation fails.
//
// # Examples
//
//	launcher, err := CreateProductionStackLauncher(&config.Global)
//	if err != nil {
//	    log.Fatalf("Failed to create stack launcher: %v", err)
//	}
//	err = launcher.Launch(ctx, opts)
//
// # Assumptions
//
//   - Config is valid and loaded.
func CreateProductionStackLauncher(cfg *config.SignalConfig) (StackLauncher, error) {
	factory := NewDefaultStackFactory()
	return factory.CreateStackLauncher(cfg)
}
