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
	"strconv"
	"strings"
)

// =============================================================================
// TYPES
// =============================================================================

// RuntimeMode selects a runtime budget preset for the stack.
type RuntimeMode string

const (
	// ModeLowPower caps the stack for constrained hosts.
	ModeLowPower RuntimeMode = "low-power"

	// ModeDefault is the baseline budget; launching in this mode is
	// byte-identical to invoking the engine on the base manifest alone.
	ModeDefault RuntimeMode = "default"

	// ModeHighPerformance raises limits for well-provisioned hosts.
	ModeHighPerformance RuntimeMode = "high-performance"

	// ModeAuto resolves to a concrete mode via hardware detection.
	ModeAuto RuntimeMode = "auto"
)

// IsConcrete reports whether the mode maps to budget rows.
// ModeAuto is a launch-time alias, not a budget mode.
func (m RuntimeMode) IsConcrete() bool {
	switch m {
	case ModeLowPower, ModeDefault, ModeHighPerformance:
		return true
	default:
		return false
	}
}

// ParseRuntimeMode validates a --mode flag value.
func ParseRuntimeMode(s string) (RuntimeMode, error) {
	mode := RuntimeMode(s)
	if mode == ModeAuto || mode.IsConcrete() {
		return mode, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected auto, low-power, default, or high-performance)", s)
}

// ServiceRole identifies a budgeted stack role.
type ServiceRole string

const (
	// RoleProducer is the forecasting pipeline (signal-forecaster).
	RoleProducer ServiceRole = "producer"

	// RoleServer is the artifact API (signal-api).
	RoleServer ServiceRole = "server"

	// RoleClient is the dashboard (signal-dashboard).
	RoleClient ServiceRole = "client"
)

// ComposeService returns the compose service name for the role.
func (r ServiceRole) ComposeService() string {
	switch r {
	case RoleProducer:
		return "signal-forecaster"
	case RoleServer:
		return "signal-api"
	case RoleClient:
		return "signal-dashboard"
	default:
		return ""
	}
}

// EnvPrefix returns the environment variable prefix for the role's
// budget overrides (e.g. SIGNAL_API_CPU_LIMIT).
func (r ServiceRole) EnvPrefix() string {
	switch r {
	case RoleProducer:
		return "SIGNAL_FORECASTER"
	case RoleServer:
		return "SIGNAL_API"
	case RoleClient:
		return "SIGNAL_DASHBOARD"
	default:
		return ""
	}
}

// RuntimeBudget is one row of the budget table: the cpu and memory
// limits applied to a single role under a single mode.
type RuntimeBudget struct {
	Service          ServiceRole
	CPULimit         float64
	MemoryLimitBytes int64
}

// =============================================================================
// BUDGET TABLE
// =============================================================================

const (
	miB = 1 << 20
	giB = 1 << 30
)

// roleOrder fixes the iteration order for budget listings and env maps.
var roleOrder = []ServiceRole{RoleProducer, RoleServer, RoleClient}

// budgetTable holds the nine fixed rows. Limits increase strictly per
// role from low-power through high-performance on both axes; the
// monotonicity is asserted by tests and relied on by the recommender.
var budgetTable = map[RuntimeMode]map[ServiceRole]RuntimeBudget{
	ModeLowPower: {
		RoleProducer: {Service: RoleProducer, CPULimit: 0.50, MemoryLimitBytes: 512 * miB},
		RoleServer:   {Service: RoleServer, CPULimit: 0.75, MemoryLimitBytes: 768 * miB},
		RoleClient:   {Service: RoleClient, CPULimit: 0.25, MemoryLimitBytes: 256 * miB},
	},
	ModeDefault: {
		RoleProducer: {Service: RoleProducer, CPULimit: 1.50, MemoryLimitBytes: 2 * giB},
		RoleServer:   {Service: RoleServer, CPULimit: 2.00, MemoryLimitBytes: 3 * giB},
		RoleClient:   {Service: RoleClient, CPULimit: 0.50, MemoryLimitBytes: 512 * miB},
	},
	ModeHighPerformance: {
		RoleProducer: {Service: RoleProducer, CPULimit: 3.00, MemoryLimitBytes: 6 * giB},
		RoleServer:   {Service: RoleServer, CPULimit: 4.00, MemoryLimitBytes: 8 * giB},
		RoleClient:   {Service: RoleClient, CPULimit: 1.00, MemoryLimitBytes: 1 * giB},
	},
}

// BudgetFor returns the budget row for one mode and role.
//
// # Inputs
//
//   - mode: A concrete runtime mode (not auto).
//   - role: The stack role.
//
// # Outputs
//
//   - RuntimeBudget: The matching row.
//   - error: Non-nil if the mode is not concrete or the role is unknown.
func BudgetFor(mode RuntimeMode, role ServiceRole) (RuntimeBudget, error) {
	rows, ok := budgetTable[mode]
	if !ok {
		return RuntimeBudget{}, fmt.Errorf("no budget rows for mode %q", mode)
	}
	row, ok := rows[role]
	if !ok {
		return RuntimeBudget{}, fmt.Errorf("no budget row for role %q", role)
	}
	return row, nil
}

// BudgetsFor returns the three budget rows for a mode in fixed order
// (producer, server, client).
func BudgetsFor(mode RuntimeMode) ([]RuntimeBudget, error) {
	rows, ok := budgetTable[mode]
	if !ok {
		return nil, fmt.Errorf("no budget rows for mode %q", mode)
	}
	out := make([]RuntimeBudget, 0, len(roleOrder))
	for _, role := range roleOrder {
		out = append(out, rows[role])
	}
	return out, nil
}

// BudgetEnv returns the environment variable map a mode's budget rows
// expand to, using the SIGNAL_<ROLE>_{CPU,MEMORY}_LIMIT names the base
// manifest substitutes.
//
// # Example
//
//	env, _ := BudgetEnv(ModeLowPower)
//	// env["SIGNAL_API_CPU_LIMIT"] == "0.75"
//	// env["SIGNAL_API_MEMORY_LIMIT"] == "768m"
func BudgetEnv(mode RuntimeMode) (map[string]string, error) {
	rows, err := BudgetsFor(mode)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(rows)*2)
	for _, row := range rows {
		prefix := row.Service.EnvPrefix()
		env[prefix+"_CPU_LIMIT"] = FormatCPULimit(row.CPULimit)
		env[prefix+"_MEMORY_LIMIT"] = FormatMemoryLimit(row.MemoryLimitBytes)
	}
	return env, nil
}

// =============================================================================
// FORMATTING AND PARSING
// =============================================================================

// FormatCPULimit renders a cpu limit with two decimal places, the form
// used in manifests and reports.
func FormatCPULimit(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatMemoryLimit renders a byte count in compose mem_limit syntax,
// preferring the largest exact unit ("768m", "2g").
func FormatMemoryLimit(bytes int64) string {
	if bytes > 0 && bytes%giB == 0 {
		return strconv.FormatInt(bytes/giB, 10) + "g"
	}
	if bytes > 0 && bytes%miB == 0 {
		return strconv.FormatInt(bytes/miB, 10) + "m"
	}
	return strconv.FormatInt(bytes, 10)
}

// ParseMemoryLimit converts a compose mem_limit value to bytes.
//
// Accepts plain byte counts and the k/m/g suffixes (case-insensitive,
// optional trailing "b" or "ib"), the forms podman-compose emits when
// rendering a manifest.
func ParseMemoryLimit(s string) (int64, error) {
	raw := strings.TrimSpace(strings.ToLower(s))
	if raw == "" {
		return 0, fmt.Errorf("empty memory limit")
	}

	multiplier := int64(1)
	for suffix, m := range map[string]int64{
		"kib": 1 << 10, "kb": 1 << 10, "k": 1 << 10,
		"mib": miB, "mb": miB, "m": miB,
		"gib": giB, "gb": giB, "g": giB,
	} {
		if strings.HasSuffix(raw, suffix) {
			candidate := strings.TrimSuffix(raw, suffix)
			// Longest-suffix match: "512mib" must not strip just "b".
			if _, err := strconv.ParseInt(candidate, 10, 64); err == nil {
				multiplier = m
				raw = candidate
				break
			}
		}
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid memory limit %q: negative", s)
	}
	return value * multiplier, nil
}
