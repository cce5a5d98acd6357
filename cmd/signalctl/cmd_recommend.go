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
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/ux"
	"github.com/spf13/cobra"
)

// =============================================================================
// Recommend Handler
// =============================================================================

// runRecommend profiles the host and prints the preset it maps to.
//
// The command is read-only: it never launches containers, never takes the
// process lock, and never mutates configuration. Detection failures degrade
// the profile instead of failing the command.
func runRecommend(cmd *cobra.Command, args []string) {
	if code := recommendMain(); code != CLIExitSuccess {
		os.Exit(code)
	}
}

func recommendMain() int {
	start := time.Now()
	outCfg := OutputConfig{JSON: jsonOutput, Compact: compactOutput}

	factory := NewDefaultStackFactory()
	profiler := factory.createResourceProfiler(factory.createProcessManager())

	ctx, cancel := signalContext()
	defer cancel()

	profile := profiler.Profile(ctx)
	rec := RecommendPreset(profile)

	payload := RecommendPayload{
		Mode:   string(rec.Mode),
		Reason: rec.Reason,
		Profile: &ProfilePayload{
			Platform:             string(profile.Platform),
			CPUCores:             profile.CPUCores,
			TotalMemoryBytes:     profile.TotalMemoryBytes,
			AvailableMemoryBytes: profile.AvailableMemoryBytes,
			DetectionConfidence:  string(profile.DetectionConfidence),
		},
	}

	if !jsonOutput {
		renderRecommendText(payload)
	}
	return OutputResult(outCfg, "recommend", start, payload, false, nil)
}

// renderRecommendText prints the operator-readable recommendation.
func renderRecommendText(payload RecommendPayload) {
	ux.Title("Runtime Mode Recommendation")
	ux.KeyValue("Recommended mode", payload.Mode)
	ux.KeyValue("Reason", payload.Reason)

	if payload.Profile == nil {
		return
	}

	ux.Muted("Host profile:")
	ux.KeyValue("  Platform", payload.Profile.Platform)
	ux.KeyValue("  CPU cores", formatOptionalInt(payload.Profile.CPUCores))
	ux.KeyValue("  Total memory", formatOptionalBytes(payload.Profile.TotalMemoryBytes))
	ux.KeyValue("  Available memory", formatOptionalBytes(payload.Profile.AvailableMemoryBytes))
	ux.KeyValue("  Confidence", payload.Profile.DetectionConfidence)

	if payload.Profile.DetectionConfidence != string(ConfidenceFull) {
		ux.Warning("Some host metrics could not be detected; recommendation is conservative")
	}
}

// formatOptionalInt renders a nullable count for text output.
func formatOptionalInt(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}

// formatOptionalBytes renders nullable bytes as GiB for text output.
func formatOptionalBytes(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f GiB", float64(*v)/(1024*1024*1024))
}
