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
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/google/uuid"
)

// seedHistoryCSV is a small bundled observation snapshot so a fresh
// install serves a complete artifact set before the first network
// refresh completes.
//
//go:embed seed/history.csv
var seedHistoryCSV []byte

// seedVersion sorts before every timestamp-prefixed version, so pruning
// retires the fallback as soon as real versions accumulate.
const seedVersion = "00000000T000000Z-seed"

// SeedPublished guarantees two startup invariants: the observation
// store is non-empty, and a current artifact version exists. It is a
// no-op on a warm data directory.
func SeedPublished(ctx context.Context, store *ObservationStore, publisher *artifact.Publisher, horizonDays int) error {
	observations, err := artifact.ReadHistoryCSV(bytes.NewReader(seedHistoryCSV))
	if err != nil {
		return fmt.Errorf("parse bundled snapshot: %w", err)
	}

	empty, err := store.Empty(ctx)
	if err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	if empty {
		if err := store.PutObservations(ctx, observations); err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
		slog.Info("Seeded observation store from bundled snapshot", "observations", len(observations))
	}

	if publisher.HasCurrent() {
		return nil
	}

	bySeries := make(map[string][]artifact.Observation)
	for _, obs := range observations {
		bySeries[obs.Series] = append(bySeries[obs.Series], obs)
	}

	runID := uuid.New().String()
	set, err := DeriveForecastSet(runID, time.Now().UTC(), bySeries, horizonDays)
	if err != nil {
		return fmt.Errorf("derive fallback forecasts: %w", err)
	}

	staging, err := publisher.StageDir()
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := writeExports(staging, set, observations); err != nil {
		publisher.Discard(staging)
		return fmt.Errorf("stage fallback exports: %w", err)
	}
	if err := publisher.Publish(staging, seedVersion); err != nil {
		publisher.Discard(staging)
		return fmt.Errorf("publish fallback snapshot: %w", err)
	}

	slog.Info("Published fallback snapshot", "version", seedVersion, "series", len(set.Forecasts))
	return nil
}
