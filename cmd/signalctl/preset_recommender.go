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
	"strings"
)

// Preset thresholds. high-performance requires every minimum; low-power
// triggers on any single shortfall; everything else lands on default.
// Cutoffs are absolute so the same host always gets the same answer.
const (
	highPerfMinCores     = 8
	highPerfMinTotal     = 16 * giB
	highPerfMinAvailable = 8 * giB

	lowPowerCoreFloor      = 4
	lowPowerTotalFloor     = 8 * giB
	lowPowerAvailableFloor = 4 * giB
)

// PresetRecommendation pairs a recommended runtime mode with the profile
// that produced it and a human-readable reason naming the thresholds that
// fired.
type PresetRecommendation struct {
	// Mode is the recommended concrete runtime mode.
	Mode RuntimeMode

	// Reason explains which thresholds drove the recommendation.
	Reason string

	// Profile is the snapshot the recommendation was derived from.
	Profile ResourceProfile
}

// RecommendPreset maps a resource profile to a runtime mode.
//
// # Description
//
// Pure and deterministic: the same profile always yields the same
// recommendation. Incomplete detection (any required field nil) falls back
// to default rather than guessing. low-power wins on any single shortfall;
// high-performance requires headroom on all three axes.
//
// # Inputs
//
//   - profile: Host capacity snapshot from a ResourceProfiler
//
// # Outputs
//
//   - PresetRecommendation: Mode, reason, and the input profile
//
// # Examples
//
//	rec := RecommendPreset(profiler.Profile(ctx))
//	fmt.Fprintf(os.Stderr, "auto-selected %s: %s\n", rec.Mode, rec.Reason)
func RecommendPreset(profile ResourceProfile) PresetRecommendation {
	rec := PresetRecommendation{Profile: profile}

	if missing := missingProfileFields(profile); len(missing) > 0 {
		rec.Mode = ModeDefault
		rec.Reason = fmt.Sprintf("detection incomplete (%s); using default budgets",
			strings.Join(missing, ", "))
		return rec
	}

	cores := *profile.CPUCores
	total := *profile.TotalMemoryBytes
	avail := *profile.AvailableMemoryBytes

	var shortfalls []string
	if cores < lowPowerCoreFloor {
		shortfalls = append(shortfalls,
			fmt.Sprintf("%d cores below floor of %d", cores, lowPowerCoreFloor))
	}
	if total < lowPowerTotalFloor {
		shortfalls = append(shortfalls,
			fmt.Sprintf("total memory %s below floor of %s",
				formatGiB(total), formatGiB(lowPowerTotalFloor)))
	}
	if avail < lowPowerAvailableFloor {
		shortfalls = append(shortfalls,
			fmt.Sprintf("available memory %s below floor of %s",
				formatGiB(avail), formatGiB(lowPowerAvailableFloor)))
	}
	if len(shortfalls) > 0 {
		rec.Mode = ModeLowPower
		rec.Reason = strings.Join(shortfalls, "; ")
		return rec
	}

	if cores >= highPerfMinCores && total >= highPerfMinTotal && avail >= highPerfMinAvailable {
		rec.Mode = ModeHighPerformance
		rec.Reason = fmt.Sprintf("%d cores, %s total, %s available meet high-performance minimums",
			cores, formatGiB(total), formatGiB(avail))
		return rec
	}

	rec.Mode = ModeDefault
	rec.Reason = fmt.Sprintf("%d cores, %s total, %s available sit between low-power and high-performance thresholds",
		cores, formatGiB(total), formatGiB(avail))
	return rec
}

// missingProfileFields names the required fields a profile failed to detect.
func missingProfileFields(profile ResourceProfile) []string {
	var missing []string
	if profile.CPUCores == nil {
		missing = append(missing, "cpu cores")
	}
	if profile.TotalMemoryBytes == nil {
		missing = append(missing, "total memory")
	}
	if profile.AvailableMemoryBytes == nil {
		missing = append(missing, "available memory")
	}
	return missing
}

// formatGiB renders a byte count as GiB with one decimal place.
func formatGiB(bytes int64) string {
	return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(giB))
}
