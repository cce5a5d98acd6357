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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/process"
	"github.com/AleutianAI/AleutianSignal/pkg/ux"
	"github.com/spf13/cobra"
)

// =============================================================================
// Stack Lifecycle Handlers
// =============================================================================

// runUp starts the stack in the requested (or detected) runtime mode.
func runUp(cmd *cobra.Command, args []string) {
	if code := upMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

// upMain holds the launch body so deferred cleanup (the process lock)
// runs before the exit code is applied.
func upMain() int {
	mode, err := ParseRuntimeMode(modeFlag)
	if err != nil {
		ux.Error(fmt.Sprintf("Invalid --mode: %v", err))
		return CLIExitError
	}

	// Mutating commands take the instance lock so two terminals cannot
	// start and tear down the stack at the same time. Read-only commands
	// (status, validate, guardrails, recommend) never lock.
	lock := process.NewProcessLock(process.DefaultProcessLockConfig())
	if err := lock.Acquire(); err != nil {
		ux.Error(fmt.Sprintf("Cannot start: %v", err))
		return CLIExitError
	}
	defer lock.Release()

	launcher, err := NewDefaultStackFactory().CreateStackLauncher(&config.Global)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build stack launcher: %v", err))
		return CLIExitError
	}

	opts := LaunchOptions{
		Mode:       mode,
		ForceBuild: forceBuild,
		Services:   onlyServices,
		SkipWait:   noWait,
	}
	if withResearch || config.Global.Features.Research {
		opts.ExtraProfiles = append(opts.ExtraProfiles, researchProfile)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := launcher.Launch(ctx, opts); err != nil {
		ux.Error(fmt.Sprintf("Launch failed: %v", err))
		return CLIExitError
	}

	ux.Info(fmt.Sprintf("API available at %s", config.Global.Endpoints.GetAPIBaseURL()))
	ux.Info(fmt.Sprintf("Dashboard available at %s", config.Global.Endpoints.GetDashboardURL()))
	return CLIExitSuccess
}

// runStop stops all stack containers.
func runStop(cmd *cobra.Command, args []string) {
	if code := stopMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

func stopMain() int {
	lock := process.NewProcessLock(process.DefaultProcessLockConfig())
	if err := lock.Acquire(); err != nil {
		ux.Error(fmt.Sprintf("Cannot stop: %v", err))
		return CLIExitError
	}
	defer lock.Release()

	launcher, err := NewDefaultStackFactory().CreateStackLauncher(&config.Global)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build stack launcher: %v", err))
		return CLIExitError
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := launcher.Stop(ctx); err != nil {
		ux.Error(fmt.Sprintf("Stop failed: %v", err))
		return CLIExitError
	}
	return CLIExitSuccess
}

// runStatus reports per-role container state.
func runStatus(cmd *cobra.Command, args []string) {
	if code := statusMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

func statusMain() int {
	start := time.Now()
	outCfg := OutputConfig{JSON: jsonOutput, Compact: compactOutput}

	launcher, err := NewDefaultStackFactory().CreateStackLauncher(&config.Global)
	if err != nil {
		return OutputResult(outCfg, "status", start, nil, false, err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	status, err := launcher.Status(ctx)
	if err != nil {
		return OutputResult(outCfg, "status", start, nil, false, err)
	}

	payload := statusToPayload(status)
	if !jsonOutput {
		renderStatusText(payload)
	}

	// Degraded and stopped states surface as findings so scripts can
	// branch on the exit code without parsing output.
	hasFindings := payload.State != "running"
	return OutputResult(outCfg, "status", start, payload, hasFindings, nil)
}

// runLogs streams logs from one role or the whole stack.
func runLogs(cmd *cobra.Command, args []string) {
	launcher, err := NewDefaultStackFactory().CreateStackLauncher(&config.Global)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build stack launcher: %v", err))
		os.Exit(CLIExitError)
	}

	if len(args) > 0 {
		ux.Muted(fmt.Sprintf("Streaming logs for %s", strings.Join(args, " ")))
	} else {
		ux.Muted("Streaming logs for all services")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := launcher.Logs(ctx, args, followLogs); err != nil {
		ux.Error(fmt.Sprintf("Log streaming failed: %v", err))
		os.Exit(CLIExitError)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// signalContext returns a context cancelled on SIGINT/SIGTERM so engine
// subprocesses are interrupted cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// statusToPayload converts launcher status to the wire payload.
func statusToPayload(status *StackStatus) StatusPayload {
	payload := StatusPayload{
		State:          status.State,
		RunningCount:   status.RunningCount,
		StoppedCount:   status.StoppedCount,
		UnhealthyCount: status.UnhealthyCount,
		Roles:          make([]RoleStatusPayload, 0, len(status.Services)),
	}
	for _, svc := range status.Services {
		payload.Roles = append(payload.Roles, RoleStatusPayload{
			Name:          svc.Name,
			ContainerName: svc.ContainerName,
			State:         svc.State,
			Healthy:       svc.Healthy,
			Ports:         svc.Ports,
			Image:         svc.Image,
		})
	}
	return payload
}

// renderStatusText prints the operator-readable status table.
func renderStatusText(payload StatusPayload) {
	ux.Title("Signal Stack Status")

	switch payload.State {
	case "running":
		ux.Success(fmt.Sprintf("Stack running (%d services)", payload.RunningCount))
	case "degraded":
		ux.Warning(fmt.Sprintf("Stack degraded: %d running, %d stopped, %d unhealthy",
			payload.RunningCount, payload.StoppedCount, payload.UnhealthyCount))
	default:
		ux.Muted("Stack is stopped")
	}

	for _, role := range payload.Roles {
		icon := ux.IconSuccess
		detail := role.State
		if role.State != "running" {
			icon = ux.IconError
		} else if role.Healthy != nil && !*role.Healthy {
			icon = ux.IconWarning
			detail = "running (unhealthy)"
		}
		if len(role.Ports) > 0 {
			detail += "  " + strings.Join(role.Ports, ", ")
		}
		fmt.Printf("  %s %-18s %s\n", icon.Render(), role.Name, detail)
	}
}
