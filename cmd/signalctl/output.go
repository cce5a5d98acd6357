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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed with findings/violations
	CLIExitError    = 2 // Operation failed
)

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
	Quiet   bool // No output, exit code only
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes structured data as JSON to stdout.
//
// # Inputs
//
//   - data: The data to encode. Must be JSON-serializable.
//   - compact: If true, output without indentation.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputJSON(data interface{}, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputYAML writes structured data as YAML to stdout.
//
// # Inputs
//
//   - data: The data to encode. Must be YAML-serializable.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

// OutputError writes an error in the appropriate format.
//
// # Inputs
//
//   - jsonMode: If true, output as JSON to stdout.
//   - msg: Human-readable error message.
//   - err: The underlying error.
func OutputError(jsonMode bool, msg string, err error) {
	if jsonMode {
		result := CommandResult{
			APIVersion: "1.0",
			Timestamp:  time.Now(),
			Success:    false,
			Error:      fmt.Sprintf("%s: %v", msg, err),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
}

// OutputResult handles all output scenarios with proper formatting.
//
// # Inputs
//
//   - cfg: Output configuration.
//   - cmd: Command name for metadata.
//   - start: Start time for duration calculation.
//   - data: The data to output.
//   - hasFindings: Whether the operation found issues (for exit code).
//   - err: Any error that occurred.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputResult(cfg OutputConfig, cmd string, start time.Time, data interface{}, hasFindings bool, err error) int {
	if cfg.Quiet {
		if err != nil {
			return CLIExitError
		}
		if hasFindings {
			return CLIExitFindings
		}
		return CLIExitSuccess
	}

	if err != nil {
		OutputError(cfg.JSON, "Command failed", err)
		return CLIExitError
	}

	if cfg.JSON {
		result := CommandResult{
			APIVersion: "1.0",
			Command:    cmd,
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    true,
			Data:       data,
		}
		if encErr := OutputJSON(result, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return CLIExitError
		}
	}

	if hasFindings {
		return CLIExitFindings
	}
	return CLIExitSuccess
}

// RenderFormat selects how a report is rendered to the terminal.
type RenderFormat string

const (
	// FormatText is the operator-readable styled rendering.
	FormatText RenderFormat = "text"

	// FormatJSON is the machine-readable JSON rendering.
	FormatJSON RenderFormat = "json"

	// FormatYAML is the machine-readable YAML rendering.
	FormatYAML RenderFormat = "yaml"
)

// ParseRenderFormat validates a --format flag value.
//
// # Inputs
//
//   - s: Raw flag value.
//
// # Outputs
//
//   - RenderFormat: The matching format.
//   - error: Non-nil if the value is not text, json, or yaml.
func ParseRenderFormat(s string) (RenderFormat, error) {
	switch RenderFormat(s) {
	case FormatText, FormatJSON, FormatYAML:
		return RenderFormat(s), nil
	default:
		return "", fmt.Errorf("unknown format %q (expected text, json, or yaml)", s)
	}
}

// RecommendPayload holds recommend command output.
type RecommendPayload struct {
	Mode    string          `json:"mode"`
	Reason  string          `json:"reason"`
	Profile *ProfilePayload `json:"profile,omitempty"`
}

// ProfilePayload is the wire form of a detected resource profile.
type ProfilePayload struct {
	Platform             string `json:"platform"`
	CPUCores             *int   `json:"cpu_cores"`
	TotalMemoryBytes     *int64 `json:"total_memory_bytes"`
	AvailableMemoryBytes *int64 `json:"available_memory_bytes"`
	DetectionConfidence  string `json:"detection_confidence"`
}

// StatusPayload holds status command output.
type StatusPayload struct {
	State          string              `json:"state"`
	RunningCount   int                 `json:"running_count"`
	StoppedCount   int                 `json:"stopped_count"`
	UnhealthyCount int                 `json:"unhealthy_count"`
	Roles          []RoleStatusPayload `json:"roles"`
}

// RoleStatusPayload represents one stack role in status output.
type RoleStatusPayload struct {
	Name          string   `json:"name"`
	ContainerName string   `json:"container_name"`
	State         string   `json:"state"`
	Healthy       *bool    `json:"healthy,omitempty"`
	Ports         []string `json:"ports,omitempty"`
	Image         string   `json:"image,omitempty"`
}
