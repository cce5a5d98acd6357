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
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
)

// Derivation window and sample floor. The forecast is a rolling mean of
// the most recent closes with bands scaled by return volatility, so the
// same observation window always produces the same artifact bytes.
const (
	// deriveWindow is how many trailing observations feed one forecast.
	deriveWindow = 20

	// minDeriveObservations is the smallest window a forecast accepts.
	minDeriveObservations = 5
)

// DeriveForecast computes one series' rolling-mean forecast with
// volatility bands over horizonDays.
//
// # Description
//
// The point forecast is the arithmetic mean of the last deriveWindow
// closes. Volatility is the sample standard deviation of daily simple
// returns inside that window, and the bands widen with the square root
// of the horizon. Pure function: no clock, no randomness.
//
// # Inputs
//
//   - series: Series name recorded in the forecast.
//   - observations: The series' history, any order; only the most
//     recent deriveWindow entries are used.
//   - horizonDays: Forecast horizon. Must be positive.
//
// # Outputs
//
//   - artifact.Forecast: The derived forecast.
//   - error: Non-nil if the horizon is invalid or the window is smaller
//     than minDeriveObservations.
func DeriveForecast(series string, observations []artifact.Observation, horizonDays int) (artifact.Forecast, error) {
	if horizonDays <= 0 {
		return artifact.Forecast{}, fmt.Errorf("series %s: horizon must be positive, got %d", series, horizonDays)
	}
	if len(observations) < minDeriveObservations {
		return artifact.Forecast{}, fmt.Errorf("series %s: %d observations, need at least %d",
			series, len(observations), minDeriveObservations)
	}

	sorted := make([]artifact.Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	window := sorted
	if len(window) > deriveWindow {
		window = window[len(window)-deriveWindow:]
	}

	var sum float64
	for _, obs := range window {
		sum += obs.Close
	}
	mean := sum / float64(len(window))

	volatility := returnVolatility(window)
	spread := volatility * math.Sqrt(float64(horizonDays))

	lower := mean * (1 - spread)
	if lower < 0 {
		lower = 0
	}

	return artifact.Forecast{
		Series:       series,
		AsOf:         window[len(window)-1].Date.UTC(),
		HorizonDays:  horizonDays,
		Mean:         mean,
		Upper:        mean * (1 + spread),
		Lower:        lower,
		Volatility:   volatility,
		Observations: len(window),
	}, nil
}

// DeriveForecastSet derives every series' forecast into one payload,
// ordered by series name so repeated runs over the same data produce
// identical bytes.
func DeriveForecastSet(runID string, generatedAt time.Time, observationsBySeries map[string][]artifact.Observation, horizonDays int) (artifact.ForecastSet, error) {
	names := make([]string, 0, len(observationsBySeries))
	for name := range observationsBySeries {
		names = append(names, name)
	}
	sort.Strings(names)

	set := artifact.ForecastSet{
		SchemaVersion: artifact.SchemaVersion,
		RunID:         runID,
		GeneratedAt:   generatedAt.UTC(),
	}
	for _, name := range names {
		forecast, err := DeriveForecast(name, observationsBySeries[name], horizonDays)
		if err != nil {
			return artifact.ForecastSet{}, err
		}
		set.Forecasts = append(set.Forecasts, forecast)
	}
	return set, nil
}

// returnVolatility is the sample standard deviation of daily simple
// returns within the window. Zero when fewer than two returns exist.
func returnVolatility(window []artifact.Observation) float64 {
	var returns []float64
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (window[i].Close-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var squares float64
	for _, r := range returns {
		squares += (r - mean) * (r - mean)
	}
	return math.Sqrt(squares / float64(len(returns)-1))
}
