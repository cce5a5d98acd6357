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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGuardrailFailed is returned when a guardrail check finds a
	// mismatch between the rendered stack and its contract.
	ErrGuardrailFailed = errors.New("guardrail check failed")

	// ErrRenderUnparseable is returned when the engine's rendered
	// manifest cannot be decoded as YAML.
	ErrRenderUnparseable = errors.New("rendered manifest unparseable")
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Guardrail check names, in suite order. Each is also the name of the
// subcommand that runs the check on its own.
const (
	GuardrailPresetRender     = "preset-render"
	GuardrailDefaultBudget    = "default-budget"
	GuardrailProfileIsolation = "profile-isolation"
)

// researchComposeService is the compose service name of the optional
// research sandbox, present only behind the research profile.
const researchComposeService = "signal-research"

// =============================================================================
// TYPES
// =============================================================================

// GuardrailFinding records one expected-vs-actual mismatch found by a
// guardrail check.
//
// # Fields
//
//   - Mode: Runtime mode whose render produced the mismatch ("" when the
//     finding is mode-independent, e.g. profile leakage).
//   - Service: Compose service name the finding applies to.
//   - Axis: The compared property ("cpus", "mem_limit", "services").
//   - Expected: The contract value.
//   - Actual: The rendered value ("<absent>" when the property or service
//     is missing from the render).
type GuardrailFinding struct {
	Mode     string `json:"mode,omitempty"`
	Service  string `json:"service"`
	Axis     string `json:"axis"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// String renders the finding as a single diagnostic line.
func (f GuardrailFinding) String() string {
	var b strings.Builder
	if f.Mode != "" {
		b.WriteString("[")
		b.WriteString(f.Mode)
		b.WriteString("] ")
	}
	b.WriteString(f.Service)
	b.WriteString(" ")
	b.WriteString(f.Axis)
	b.WriteString(": expected ")
	b.WriteString(f.Expected)
	b.WriteString(", got ")
	b.WriteString(f.Actual)
	return b.String()
}

// GuardrailReport is the outcome of one guardrail check.
//
// A report with Passed false carries either Findings (contract
// mismatches) or Err (the check could not run at all, e.g. the engine
// binary or an overlay file is missing).
type GuardrailReport struct {
	Check    string             `json:"check"`
	Passed   bool               `json:"passed"`
	Duration time.Duration      `json:"duration"`
	Findings []GuardrailFinding `json:"findings,omitempty"`
	Err      error              `json:"-"`
}

// GuardrailSuiteResult is the outcome of the ordered guardrail suite.
//
// The suite short-circuits: Reports holds every check that ran, Failed
// names the first failing check ("" when all passed), and Skipped lists
// the checks that never ran because an earlier one failed.
type GuardrailSuiteResult struct {
	Passed  bool              `json:"passed"`
	Failed  string            `json:"failed,omitempty"`
	Reports []GuardrailReport `json:"reports"`
	Skipped []string          `json:"skipped,omitempty"`
}

// =============================================================================
// INTERFACES
// =============================================================================

// GuardrailValidator runs configuration guardrails against the stack's
// manifests without starting any containers.
//
// # Description
//
// Every check is stateless and read-only: it renders manifests through
// the engine's config verb and compares the result against the budget
// table and profile contract. Checks never mutate engine state, so they
// are safe to run beside a live stack.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type GuardrailValidator interface {
	// CheckPresetRender renders the manifest under every concrete mode
	// and asserts per-service cpu and memory limits match the budget
	// table exactly.
	CheckPresetRender(ctx context.Context) GuardrailReport

	// CheckDefaultBudget renders the unmodified baseline (base manifest
	// only, no overrides) twice, asserting the render is byte-stable and
	// reproduces the default budget rows.
	CheckDefaultBudget(ctx context.Context) GuardrailReport

	// CheckProfileIsolation asserts the research service is absent from
	// the default render and present only under the research profile.
	CheckProfileIsolation(ctx context.Context) GuardrailReport

	// RunAll executes the checks in order, stopping at the first failure.
	RunAll(ctx context.Context) GuardrailSuiteResult
}

// =============================================================================
// RENDERED MANIFEST PARSING
// =============================================================================

// renderedManifest is the slice of the engine's config output the
// guardrails compare: service names and their resource limits. All
// other rendered keys are ignored.
type renderedManifest struct {
	Services map[string]renderedService `yaml:"services"`
}

type renderedService struct {
	CPUs     string `yaml:"cpus"`
	MemLimit string `yaml:"mem_limit"`
}

// parseRenderedManifest decodes the engine's rendered YAML.
func parseRenderedManifest(text string) (renderedManifest, error) {
	var manifest renderedManifest
	if err := yaml.Unmarshal([]byte(text), &manifest); err != nil {
		return renderedManifest{}, fmt.Errorf("%w: %v", ErrRenderUnparseable, err)
	}
	if manifest.Services == nil {
		return renderedManifest{}, fmt.Errorf("%w: no services key in render", ErrRenderUnparseable)
	}
	return manifest, nil
}

// compareBudgets checks one rendered manifest against a set of budget
// rows and returns a finding per mismatched service/axis pair.
//
// CPU limits are compared as parsed decimals so "0.5" and "0.50" agree;
// memory limits are compared as byte counts so "512m" and "536870912"
// agree. Equality on the parsed values is exact: every table value is a
// quarter-core multiple and an exact byte count, both representable
// without rounding.
func compareBudgets(mode RuntimeMode, manifest renderedManifest, rows []RuntimeBudget) []GuardrailFinding {
	var findings []GuardrailFinding
	for _, row := range rows {
		service := row.Service.ComposeService()
		rendered, ok := manifest.Services[service]
		if !ok {
			findings = append(findings, GuardrailFinding{
				Mode:     string(mode),
				Service:  service,
				Axis:     "services",
				Expected: "present",
				Actual:   "<absent>",
			})
			continue
		}

		findings = append(findings, compareCPU(mode, service, row, rendered)...)
		findings = append(findings, compareMemory(mode, service, row, rendered)...)
	}
	return findings
}

func compareCPU(mode RuntimeMode, service string, row RuntimeBudget, rendered renderedService) []GuardrailFinding {
	expected := FormatCPULimit(row.CPULimit)
	if rendered.CPUs == "" {
		return []GuardrailFinding{{
			Mode: string(mode), Service: service, Axis: "cpus",
			Expected: expected, Actual: "<absent>",
		}}
	}
	actual, err := strconv.ParseFloat(strings.TrimSpace(rendered.CPUs), 64)
	if err != nil || actual != row.CPULimit {
		return []GuardrailFinding{{
			Mode: string(mode), Service: service, Axis: "cpus",
			Expected: expected, Actual: rendered.CPUs,
		}}
	}
	return nil
}

func compareMemory(mode RuntimeMode, service string, row RuntimeBudget, rendered renderedService) []GuardrailFinding {
	expected := FormatMemoryLimit(row.MemoryLimitBytes)
	if rendered.MemLimit == "" {
		return []GuardrailFinding{{
			Mode: string(mode), Service: service, Axis: "mem_limit",
			Expected: expected, Actual: "<absent>",
		}}
	}
	actual, err := ParseMemoryLimit(rendered.MemLimit)
	if err != nil || actual != row.MemoryLimitBytes {
		return []GuardrailFinding{{
			Mode: string(mode), Service: service, Axis: "mem_limit",
			Expected: expected, Actual: rendered.MemLimit,
		}}
	}
	return nil
}

// =============================================================================
// DEFAULT IMPLEMENTATION
// =============================================================================

// DefaultGuardrailValidator renders manifests through per-mode compose
// executors and compares them against the budget table.
//
// # Description
//
// The validator holds the same ComposeFactoryFunc the launcher uses, so
// guardrail renders see exactly the file layering a launch would: the
// base manifest alone for default mode, base plus the mode overlay for
// the named modes. Renders run with no environment injection; the files
// themselves must encode the contract.
//
// # Thread Safety
//
// Safe for concurrent use. The validator is stateless beyond its
// injected factory.
type DefaultGuardrailValidator struct {
	composeFactory ComposeFactoryFunc
}

// NewDefaultGuardrailValidator creates a guardrail validator.
//
// # Inputs
//
//   - composeFactory: Builds a compose executor for a mode and profile
//     set. Must not be nil.
//
// # Outputs
//
//   - *DefaultGuardrailValidator: Ready-to-use validator.
//   - error: ErrNilDependency if composeFactory is nil.
func NewDefaultGuardrailValidator(composeFactory ComposeFactoryFunc) (*DefaultGuardrailValidator, error) {
	if composeFactory == nil {
		return nil, fmt.Errorf("%w: composeFactory", ErrNilDependency)
	}
	return &DefaultGuardrailValidator{composeFactory: composeFactory}, nil
}

// renderMode renders the manifest set for one mode through the engine's
// config verb. Fails fast before any engine invocation when the binary
// or a required manifest file is missing.
func (v *DefaultGuardrailValidator) renderMode(ctx context.Context, mode RuntimeMode, profiles []string) (renderedManifest, error) {
	executor, err := v.composeFactory(mode, profiles)
	if err != nil {
		return renderedManifest{}, err
	}
	if err := executor.ValidateBinary(); err != nil {
		return renderedManifest{}, err
	}
	if err := executor.ValidateFiles(); err != nil {
		return renderedManifest{}, err
	}
	text, err := executor.RenderConfig(ctx, nil)
	if err != nil {
		return renderedManifest{}, err
	}
	return parseRenderedManifest(text)
}

// renderModeRaw is renderMode without parsing, for byte-stability
// comparisons.
func (v *DefaultGuardrailValidator) renderModeRaw(ctx context.Context, mode RuntimeMode, profiles []string) (string, error) {
	executor, err := v.composeFactory(mode, profiles)
	if err != nil {
		return "", err
	}
	if err := executor.ValidateBinary(); err != nil {
		return "", err
	}
	if err := executor.ValidateFiles(); err != nil {
		return "", err
	}
	return executor.RenderConfig(ctx, nil)
}

// CheckPresetRender implements GuardrailValidator.
//
// # Description
//
// Renders the stack under low-power, default, and high-performance and
// compares every budgeted service's cpus and mem_limit against the
// budget table. A missing overlay file fails the check before the
// engine is ever invoked.
func (v *DefaultGuardrailValidator) CheckPresetRender(ctx context.Context) GuardrailReport {
	start := time.Now()
	report := GuardrailReport{Check: GuardrailPresetRender}

	for _, mode := range []RuntimeMode{ModeLowPower, ModeDefault, ModeHighPerformance} {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			report.Duration = time.Since(start)
			return report
		}

		manifest, err := v.renderMode(ctx, mode, nil)
		if err != nil {
			report.Err = fmt.Errorf("render %s: %w", mode, err)
			report.Duration = time.Since(start)
			return report
		}

		rows, err := BudgetsFor(mode)
		if err != nil {
			report.Err = err
			report.Duration = time.Since(start)
			return report
		}

		report.Findings = append(report.Findings, compareBudgets(mode, manifest, rows)...)
	}

	report.Passed = len(report.Findings) == 0
	report.Duration = time.Since(start)
	return report
}

// CheckDefaultBudget implements GuardrailValidator.
//
// # Description
//
// The regression guard for the baseline: the base manifest rendered
// with no overlay and no overrides must reproduce the default budget
// rows, and rendering twice must produce identical bytes. Catches
// edits to the manifest's fallback values and nondeterministic render
// output.
func (v *DefaultGuardrailValidator) CheckDefaultBudget(ctx context.Context) GuardrailReport {
	start := time.Now()
	report := GuardrailReport{Check: GuardrailDefaultBudget}

	first, err := v.renderModeRaw(ctx, ModeDefault, nil)
	if err != nil {
		report.Err = fmt.Errorf("render baseline: %w", err)
		report.Duration = time.Since(start)
		return report
	}
	second, err := v.renderModeRaw(ctx, ModeDefault, nil)
	if err != nil {
		report.Err = fmt.Errorf("render baseline: %w", err)
		report.Duration = time.Since(start)
		return report
	}

	if first != second {
		report.Findings = append(report.Findings, GuardrailFinding{
			Mode:     string(ModeDefault),
			Service:  "<all>",
			Axis:     "render",
			Expected: "identical output across renders",
			Actual:   "renders differ",
		})
	}

	manifest, err := parseRenderedManifest(first)
	if err != nil {
		report.Err = err
		report.Duration = time.Since(start)
		return report
	}

	rows, err := BudgetsFor(ModeDefault)
	if err != nil {
		report.Err = err
		report.Duration = time.Since(start)
		return report
	}

	report.Findings = append(report.Findings, compareBudgets(ModeDefault, manifest, rows)...)
	report.Passed = len(report.Findings) == 0
	report.Duration = time.Since(start)
	return report
}

// CheckProfileIsolation implements GuardrailValidator.
//
// # Description
//
// The research service must never leak into a default launch: absent
// from the render with no profiles, present when the research profile
// is activated. Both directions are asserted so a profile stanza that
// was deleted outright also fails.
func (v *DefaultGuardrailValidator) CheckProfileIsolation(ctx context.Context) GuardrailReport {
	start := time.Now()
	report := GuardrailReport{Check: GuardrailProfileIsolation}

	plain, err := v.renderMode(ctx, ModeDefault, nil)
	if err != nil {
		report.Err = fmt.Errorf("render default: %w", err)
		report.Duration = time.Since(start)
		return report
	}
	if _, leaked := plain.Services[researchComposeService]; leaked {
		report.Findings = append(report.Findings, GuardrailFinding{
			Service:  researchComposeService,
			Axis:     "services",
			Expected: "absent from default render",
			Actual:   "present",
		})
	}

	gated, err := v.renderMode(ctx, ModeDefault, []string{researchProfile})
	if err != nil {
		report.Err = fmt.Errorf("render with %s profile: %w", researchProfile, err)
		report.Duration = time.Since(start)
		return report
	}
	if _, ok := gated.Services[researchComposeService]; !ok {
		report.Findings = append(report.Findings, GuardrailFinding{
			Service:  researchComposeService,
			Axis:     "services",
			Expected: fmt.Sprintf("present under --profile %s", researchProfile),
			Actual:   "<absent>",
		})
	}

	report.Passed = len(report.Findings) == 0
	report.Duration = time.Since(start)
	return report
}

// RunAll implements GuardrailValidator.
//
// # Description
//
// Runs the suite in fixed order and stops at the first failing check.
// The result names the failing stage and lists every check that was
// skipped because of it, so the exit status and the report agree.
func (v *DefaultGuardrailValidator) RunAll(ctx context.Context) GuardrailSuiteResult {
	checks := []struct {
		name string
		run  func(context.Context) GuardrailReport
	}{
		{GuardrailPresetRender, v.CheckPresetRender},
		{GuardrailDefaultBudget, v.CheckDefaultBudget},
		{GuardrailProfileIsolation, v.CheckProfileIsolation},
	}

	var result GuardrailSuiteResult
	for i, check := range checks {
		report := check.run(ctx)
		result.Reports = append(result.Reports, report)
		if !report.Passed {
			result.Failed = check.name
			for _, rest := range checks[i+1:] {
				result.Skipped = append(result.Skipped, rest.name)
			}
			return result
		}
	}
	result.Passed = true
	return result
}

// =============================================================================
// MOCK IMPLEMENTATION
// =============================================================================

// MockGuardrailValidator implements GuardrailValidator for tests.
type MockGuardrailValidator struct {
	CheckPresetRenderFunc     func(context.Context) GuardrailReport
	CheckDefaultBudgetFunc    func(context.Context) GuardrailReport
	CheckProfileIsolationFunc func(context.Context) GuardrailReport
	RunAllFunc                func(context.Context) GuardrailSuiteResult

	RunAllCalls int
}

// CheckPresetRender implements GuardrailValidator.
func (m *MockGuardrailValidator) CheckPresetRender(ctx context.Context) GuardrailReport {
	if m.CheckPresetRenderFunc != nil {
		return m.CheckPresetRenderFunc(ctx)
	}
	return GuardrailReport{Check: GuardrailPresetRender, Passed: true}
}

// CheckDefaultBudget implements GuardrailValidator.
func (m *MockGuardrailValidator) CheckDefaultBudget(ctx context.Context) GuardrailReport {
	if m.CheckDefaultBudgetFunc != nil {
		return m.CheckDefaultBudgetFunc(ctx)
	}
	return GuardrailReport{Check: GuardrailDefaultBudget, Passed: true}
}

// CheckProfileIsolation implements GuardrailValidator.
func (m *MockGuardrailValidator) CheckProfileIsolation(ctx context.Context) GuardrailReport {
	if m.CheckProfileIsolationFunc != nil {
		return m.CheckProfileIsolationFunc(ctx)
	}
	return GuardrailReport{Check: GuardrailProfileIsolation, Passed: true}
}

// RunAll implements GuardrailValidator.
func (m *MockGuardrailValidator) RunAll(ctx context.Context) GuardrailSuiteResult {
	m.RunAllCalls++
	if m.RunAllFunc != nil {
		return m.RunAllFunc(ctx)
	}
	return GuardrailSuiteResult{
		Passed: true,
		Reports: []GuardrailReport{
			{Check: GuardrailPresetRender, Passed: true},
			{Check: GuardrailDefaultBudget, Passed: true},
			{Check: GuardrailProfileIsolation, Passed: true},
		},
	}
}

// =============================================================================
// INTERFACE SATISFACTION CHECKS
// =============================================================================

var _ GuardrailValidator = (*DefaultGuardrailValidator)(nil)
var _ GuardrailValidator = (*MockGuardrailValidator)(nil)
