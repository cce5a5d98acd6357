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

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/config"
	"github.com/AleutianAI/AleutianSignal/pkg/ux"
	"github.com/spf13/cobra"
)

// =============================================================================
// Guardrail Handlers
// =============================================================================

// runGuardrails executes the full ordered guardrail suite.
func runGuardrails(cmd *cobra.Command, args []string) {
	if code := guardrailsMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

func guardrailsMain() int {
	validator, err := NewDefaultStackFactory().CreateGuardrailValidator(&config.Global)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build guardrail validator: %v", err))
		return CLIExitError
	}

	ctx, cancel := signalContext()
	defer cancel()

	// The suite shells out to the compose engine several times; show
	// progress so the terminal does not look hung.
	spin := ux.NewSpinner("Rendering manifests...")
	if !jsonOutput {
		spin.Start()
	}
	result := validator.RunAll(ctx)
	spin.Stop()

	if jsonOutput {
		if err := OutputJSON(result, compactOutput); err != nil {
			return CLIExitError
		}
		return guardrailSuiteExitCode(result)
	}

	ux.Title("Configuration Guardrails")
	passed, failed := 0, 0
	for _, report := range result.Reports {
		renderGuardrailReport(report)
		if report.Passed {
			passed++
		} else {
			failed++
		}
	}
	for _, name := range result.Skipped {
		ux.CheckStatus(name, ux.IconSkipped, 0, "skipped: earlier check failed")
	}
	ux.Summary(passed, failed, len(result.Skipped))

	return guardrailSuiteExitCode(result)
}

// runGuardrailPresetRender runs only the preset render check.
func runGuardrailPresetRender(cmd *cobra.Command, args []string) {
	runSingleGuardrail(func(v GuardrailValidator, ctx context.Context) GuardrailReport {
		return v.CheckPresetRender(ctx)
	})
}

// runGuardrailDefaultBudget runs only the default budget check.
func runGuardrailDefaultBudget(cmd *cobra.Command, args []string) {
	runSingleGuardrail(func(v GuardrailValidator, ctx context.Context) GuardrailReport {
		return v.CheckDefaultBudget(ctx)
	})
}

// runGuardrailProfileIsolation runs only the profile isolation check.
func runGuardrailProfileIsolation(cmd *cobra.Command, args []string) {
	runSingleGuardrail(func(v GuardrailValidator, ctx context.Context) GuardrailReport {
		return v.CheckProfileIsolation(ctx)
	})
}

// runSingleGuardrail shares the run-render-exit skeleton across the
// per-check subcommands.
func runSingleGuardrail(check func(GuardrailValidator, context.Context) GuardrailReport) {
	code := func() int {
		validator, err := NewDefaultStackFactory().CreateGuardrailValidator(&config.Global)
		if err != nil {
			ux.Error(fmt.Sprintf("Failed to build guardrail validator: %v", err))
			return CLIExitError
		}

		ctx, cancel := signalContext()
		defer cancel()

		report := check(validator, ctx)

		if jsonOutput {
			if err := OutputJSON(report, compactOutput); err != nil {
				return CLIExitError
			}
		} else {
			renderGuardrailReport(report)
		}
		return guardrailReportExitCode(report)
	}()
	if code != CLIExitSuccess {
		os.Exit(code)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// guardrailReportExitCode distinguishes budget violations from engine
// failures so CI can tell a bad manifest from a broken toolchain.
func guardrailReportExitCode(report GuardrailReport) int {
	if report.Passed {
		return CLIExitSuccess
	}
	if report.Err != nil {
		return CLIExitError
	}
	return CLIExitFindings
}

// guardrailSuiteExitCode maps the suite outcome to the process exit code.
func guardrailSuiteExitCode(result GuardrailSuiteResult) int {
	if result.Passed {
		return CLIExitSuccess
	}
	for _, report := range result.Reports {
		if !report.Passed {
			return guardrailReportExitCode(report)
		}
	}
	return CLIExitFindings
}

// renderGuardrailReport prints one check outcome with its findings.
func renderGuardrailReport(report GuardrailReport) {
	icon := ux.IconSuccess
	detail := ""
	if !report.Passed {
		icon = ux.IconError
		if report.Err != nil {
			detail = report.Err.Error()
		} else {
			detail = fmt.Sprintf("%d finding(s)", len(report.Findings))
		}
	}
	ux.CheckStatus(report.Check, icon, report.Duration, detail)

	for _, finding := range report.Findings {
		ux.Muted("    " + finding.String())
	}
}
