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

// --- Global Command Variables ---
var (
	modeFlag         string   // Runtime mode for `up` (auto/low-power/default/high-performance)
	forceBuild       bool     // Rebuild container images before starting
	withResearch     bool     // Activate the research compose profile
	onlyServices     []string // Limit `up` to specific compose services
	noWait           bool     // Skip the readiness verification phase
	jsonOutput       bool     // Machine-readable JSON on stdout
	compactOutput    bool     // JSON without indentation
	followLogs       bool     // Stream logs until interrupted
	outputFormat     string   // validate rendering: text, json, or yaml
	skipStartup      bool     // Validate an already-running stack
	waitForMarker    bool     // Block on the producer health marker before validating
	personalityLevel string   // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "signalctl",
		Short: "A cli to manage the AleutianSignal local market-signal stack",
		Long: `Signalctl is a tool for launching and managing a complete,
				local market-signal stack on your own hardware.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			if err := config.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
				os.Exit(CLIExitError)
			}
		},
	}

	// --- Stack Lifecycle ---
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Start the signal stack in a budgeted runtime mode",
		Long: `Starts all stack roles through the orchestration engine. The runtime
				mode selects a resource budget overlay; 'auto' detects host capacity
				and picks a preset, 'default' launches the base manifest exactly as a
				direct engine invocation would.`,
		Run: runUp, // Defined in cmd_stack.go
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop all signal stack services",
		Run:   runStop, // Defined in cmd_stack.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show state and health of the stack roles",
		Run:   runStatus, // Defined in cmd_stack.go
	}

	logsCmd = &cobra.Command{
		Use:   "logs [role]",
		Short: "Stream logs from a stack service container",
		Run:   runLogs, // Defined in cmd_stack.go
	}

	// --- Hardware / Presets ---
	recommendCmd = &cobra.Command{
		Use:   "recommend",
		Short: "Detect host capacity and recommend a runtime mode",
		Long: `Profiles the host (cpu cores, memory, platform) and maps the result
				to a runtime budget preset. Detection never fails: missing readings
				degrade confidence and bias the recommendation toward 'default'.
				Never touches the orchestration engine.`,
		Run: runRecommend, // Defined in cmd_recommend.go
	}

	// --- Validation ---
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Run the smoke-check sequence against the running stack",
		Long: `Runs the fixed check sequence: liveness, required exports, endpoint
				structure, and response latency. The exit code is 0 when every check
				passes and 1 otherwise, regardless of the output format.`,
		Run: runValidate, // Defined in cmd_validate.go
	}

	// --- Guardrails ---
	guardrailsCmd = &cobra.Command{
		Use:   "guardrails",
		Short: "Run the ordered configuration guardrail suite",
		Long: `Renders the stack manifests through the engine and checks them
				against the budget contract. Checks run in a fixed order and stop at
				the first failure: preset-render, default-budget, profile-isolation.
				No containers are started.`,
		Run: runGuardrails, // Defined in cmd_guardrails.go
	}

	guardrailPresetRenderCmd = &cobra.Command{
		Use:   "preset-render",
		Short: "Check rendered per-service limits match every preset's budget row",
		Run:   runGuardrailPresetRender, // Defined in cmd_guardrails.go
	}

	guardrailDefaultBudgetCmd = &cobra.Command{
		Use:   "default-budget",
		Short: "Check the unmodified baseline render against the default budget",
		Run:   runGuardrailDefaultBudget, // Defined in cmd_guardrails.go
	}

	guardrailProfileIsolationCmd = &cobra.Command{
		Use:   "profile-isolation",
		Short: "Check the research role stays out of the default render",
		Run:   runGuardrailProfileIsolation, // Defined in cmd_guardrails.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich), standard, minimal, or machine (scripting)")

	// --- Stack Lifecycle ---
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().StringVar(&modeFlag, "mode", "auto",
		"Runtime mode: 'auto', 'low-power', 'default', or 'high-performance'")
	upCmd.Flags().BoolVar(&forceBuild, "build", false, "Force rebuild of container images")
	upCmd.Flags().BoolVar(&withResearch, "research", false,
		"Also start the research role (activates the 'research' compose profile)")
	upCmd.Flags().StringSliceVar(&onlyServices, "services", nil,
		"Limit the launch to specific compose services (default: all)")
	upCmd.Flags().BoolVar(&noWait, "no-wait", false, "Return without waiting for readiness")

	rootCmd.AddCommand(stopCmd)

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	statusCmd.Flags().BoolVar(&compactOutput, "compact", false, "Compact JSON (no indentation)")

	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "Stream logs continuously")

	// --- Hardware / Presets ---
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output recommendation as JSON")

	// --- Validation ---
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&outputFormat, "format", "text",
		"Report format: 'text', 'json', or 'yaml'")
	validateCmd.Flags().BoolVar(&skipStartup, "skip-startup", false,
		"Validate an already-running stack instead of launching one")
	validateCmd.Flags().BoolVar(&waitForMarker, "wait", false,
		"Wait for the producer health marker before running checks")

	// --- Guardrails ---
	rootCmd.AddCommand(guardrailsCmd)
	guardrailsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output guardrail reports as JSON")
	guardrailsCmd.AddCommand(guardrailPresetRenderCmd)
	guardrailsCmd.AddCommand(guardrailDefaultBudgetCmd)
	guardrailsCmd.AddCommand(guardrailProfileIsolationCmd)
}
