// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package artifact defines the shared artifact-directory contract between
// the forecaster (producer), the signal API (consumer), and the CLI's
// validation checks.
//
// The contract is a directory layout:
//
//	<root>/
//	    current -> versions/<version>     (symlink, atomically flipped)
//	    .healthy                          (marker, present only after a
//	                                       successful publish)
//	    versions/<version>/
//	        manifest.json
//	        forecasts.json
//	        history.csv
//
// The producer writes a complete version into a staging directory, moves
// it under versions/, and repoints the symlink with a single rename. A
// consumer that resolves the symlink therefore always sees a complete,
// internally consistent export set, regardless of publish timing.
package artifact

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// =============================================================================
// Layout
// =============================================================================

// SchemaVersion is the current manifest and forecast payload schema.
const SchemaVersion = 1

const (
	// CurrentLink is the symlink naming the live version directory.
	CurrentLink = "current"

	// HealthMarker is the file present beside CurrentLink only while the
	// most recent refresh attempt succeeded.
	HealthMarker = ".healthy"

	// VersionsDir holds the published version directories.
	VersionsDir = "versions"
)

// Export file names within a version directory.
const (
	ManifestExport  = "manifest.json"
	ForecastsExport = "forecasts.json"
	HistoryExport   = "history.csv"
)

// requiredExports is the fixed export set every published version must
// contain. Order is the reporting order.
var requiredExports = []string{ManifestExport, ForecastsExport, HistoryExport}

// RequiredExports returns the export file names every published version
// must contain, in reporting order.
func RequiredExports() []string {
	out := make([]string, len(requiredExports))
	copy(out, requiredExports)
	return out
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoCurrentVersion is returned when the current symlink is absent
	// or dangling.
	ErrNoCurrentVersion = errors.New("no published artifact version")

	// ErrExportMissing is returned when a required export is absent or
	// empty in a version directory.
	ErrExportMissing = errors.New("required export missing")

	// ErrBadPayload is returned when an export exists but cannot be
	// decoded against the schema.
	ErrBadPayload = errors.New("malformed artifact payload")
)

// =============================================================================
// Manifest
// =============================================================================

// ExportEntry describes one export file in a manifest.
type ExportEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Manifest is the version descriptor written as manifest.json. It lists
// every export in the version except itself.
type Manifest struct {
	SchemaVersion int           `json:"schema_version"`
	RunID         string        `json:"run_id"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Exports       []ExportEntry `json:"exports"`
}

// BuildManifest hashes the exports present in dir and returns the
// manifest describing them.
//
// # Inputs
//
//   - dir: Version (or staging) directory containing the export files.
//   - runID: Identifier of the refresh run that produced the set.
//   - generatedAt: Production timestamp recorded in the manifest.
//
// # Outputs
//
//   - Manifest: Descriptor listing forecasts.json and history.csv with
//     size and sha256 digests.
//   - error: ErrExportMissing if either export is absent.
func BuildManifest(dir, runID string, generatedAt time.Time) (Manifest, error) {
	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		GeneratedAt:   generatedAt.UTC(),
	}

	for _, name := range []string{ForecastsExport, HistoryExport} {
		entry, err := hashExport(filepath.Join(dir, name))
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: %s: %v", ErrExportMissing, name, err)
		}
		entry.Name = name
		manifest.Exports = append(manifest.Exports, entry)
	}
	return manifest, nil
}

func hashExport(path string) (ExportEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return ExportEntry{}, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return ExportEntry{}, err
	}
	return ExportEntry{
		SizeBytes: size,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// =============================================================================
// Forecast payload
// =============================================================================

// Forecast is one series' derived signal: a rolling-mean point forecast
// with volatility bands over the configured horizon.
type Forecast struct {
	Series       string    `json:"series"`
	AsOf         time.Time `json:"as_of"`
	HorizonDays  int       `json:"horizon_days"`
	Mean         float64   `json:"mean"`
	Upper        float64   `json:"upper"`
	Lower        float64   `json:"lower"`
	Volatility   float64   `json:"volatility"`
	Observations int       `json:"observations"`
}

// ForecastSet is the forecasts.json payload: every tracked series'
// latest forecast from one refresh run.
type ForecastSet struct {
	SchemaVersion int        `json:"schema_version"`
	RunID         string     `json:"run_id"`
	GeneratedAt   time.Time  `json:"generated_at"`
	Forecasts     []Forecast `json:"forecasts"`
}

// SeriesNames returns the forecast series names in payload order.
func (s ForecastSet) SeriesNames() []string {
	names := make([]string, 0, len(s.Forecasts))
	for _, f := range s.Forecasts {
		names = append(names, f.Series)
	}
	return names
}

// ForecastFor returns the forecast for one series, if present.
func (s ForecastSet) ForecastFor(series string) (Forecast, bool) {
	for _, f := range s.Forecasts {
		if f.Series == series {
			return f, true
		}
	}
	return Forecast{}, false
}

// =============================================================================
// Observation history (history.csv)
// =============================================================================

// historyDateLayout is the date format used in history.csv rows.
const historyDateLayout = "2006-01-02"

// historyHeader is the fixed history.csv column set.
var historyHeader = []string{"series", "date", "close"}

// Observation is one daily closing value for a series.
type Observation struct {
	Series string
	Date   time.Time
	Close  float64
}

// WriteHistoryCSV writes observations as history.csv content: a fixed
// header followed by one row per observation, ordered by series then
// date so repeated runs over the same data produce identical bytes.
func WriteHistoryCSV(w io.Writer, observations []Observation) error {
	sorted := make([]Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Series != sorted[j].Series {
			return sorted[i].Series < sorted[j].Series
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	for _, obs := range sorted {
		row := []string{
			obs.Series,
			obs.Date.UTC().Format(historyDateLayout),
			strconv.FormatFloat(obs.Close, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadHistoryCSV parses history.csv content.
//
// Returns ErrBadPayload when the header or any row does not match the
// fixed column set.
func ReadHistoryCSV(r io.Reader) ([]Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(historyHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing history header: %v", ErrBadPayload, err)
	}
	for i, want := range historyHeader {
		if header[i] != want {
			return nil, fmt.Errorf("%w: unexpected history header %v", ErrBadPayload, header)
		}
	}

	var observations []Observation
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return observations, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}

		date, err := time.Parse(historyDateLayout, row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q: %v", ErrBadPayload, row[1], err)
		}
		closeValue, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad close %q: %v", ErrBadPayload, row[2], err)
		}
		observations = append(observations, Observation{
			Series: row[0],
			Date:   date,
			Close:  closeValue,
		})
	}
}
