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
	"os"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/pkg/ux"
	"github.com/spf13/cobra"
)

// =============================================================================
// Validate Handler
// =============================================================================

// runValidate runs the smoke-check sequence, optionally launching the
// stack first.
func runValidate(cmd *cobra.Command, args []string) {
	if code := validateMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

func validateMain() int {
	format, err := ParseRenderFormat(outputFormat)
	if err != nil {
		ux.Error(err.Error())
		return CLIExitError
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !skipStartup {
		launcher, err := NewDefaultStackFactory().CreateStackLauncher(&config.Global)
		if err != nil {
			ux.Error(fmt.Sprintf("Failed to build stack launcher: %v", err))
			return CLIExitError
		}
		if err := launcher.Launch(ctx, LaunchOptions{Mode: ModeAuto}); err != nil {
			ux.Error(fmt.Sprintf("Startup failed: %v", err))
			return CLIExitError
		}
	}

	validator, err := NewDefaultStackValidator(&config.Global, nil)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build validator: %v", err))
		return CLIExitError
	}

	if waitForMarker {
		timeout := config.Global.Validation.GetStartupTimeout()
		spin := ux.NewSpinner(fmt.Sprintf("Waiting up to %s for the first publish...", timeout))
		if format == FormatText {
			spin.Start()
		}
		markerErr := validator.WaitForHealthMarker(ctx, timeout)
		spin.Stop()
		if markerErr != nil {
			ux.Error(fmt.Sprintf("Health marker did not appear: %v", markerErr))
			return CLIExitFindings
		}
	}

	result := validator.Validate(ctx)

	switch format {
	case FormatJSON:
		if err := OutputJSON(result, compactOutput); err != nil {
			return CLIExitError
		}
	case FormatYAML:
		if err := OutputYAML(result); err != nil {
			return CLIExitError
		}
	default:
		renderValidationText(result)
	}

	// The exit code depends only on check success, never on the format.
	return result.ExitCode()
}

// renderValidationText prints the operator-readable check report.
func renderValidationText(result ValidationResult) {
	ux.Title("Stack Validation")

	passed, failed := 0, 0
	for _, check := range result.Checks {
		icon := ux.IconSuccess
		if !check.Success {
			icon = ux.IconError
			failed++
		} else {
			passed++
		}
		ux.CheckStatus(check.Name, icon, check.Duration, check.Detail)
	}

	for _, msg := range result.Errors {
		ux.Error(msg)
	}

	ux.Summary(passed, failed, 0)
}
