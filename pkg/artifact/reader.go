// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Reader resolves and reads the currently published artifact version.
//
// # Description
//
// All reads resolve the current symlink per call, never caching the
// target. A publish that happens between two calls is therefore picked
// up on the next call, and a consumer holding files from the previous
// version keeps reading a complete set (the version directory itself is
// never mutated after publish).
//
// # Thread Safety
//
// Safe for concurrent use; the reader holds no mutable state.
type Reader struct {
	root string
}

// NewReader creates a reader over an artifact root directory. The root
// does not need to exist yet; reads fail with ErrNoCurrentVersion until
// a version is published.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Root returns the artifact root directory.
func (r *Reader) Root() string {
	return r.root
}

// CurrentDir resolves the current symlink to the live version directory.
//
// # Outputs
//
//   - string: Absolute path of the live version directory.
//   - error: ErrNoCurrentVersion if the link is absent or dangling.
func (r *Reader) CurrentDir() (string, error) {
	link := filepath.Join(r.root, CurrentLink)
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoCurrentVersion, link)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNoCurrentVersion, resolved)
	}
	return resolved, nil
}

// MissingExports reports which required exports are absent or empty in
// the live version.
//
// # Outputs
//
//   - []string: Missing export names in reporting order; empty when the
//     published set is complete.
//   - error: ErrNoCurrentVersion when nothing is published at all.
func (r *Reader) MissingExports() ([]string, error) {
	dir, err := r.CurrentDir()
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range requiredExports {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Healthy reports whether the health marker is present, i.e. the most
// recent refresh attempt published successfully.
func (r *Reader) Healthy() bool {
	info, err := os.Stat(filepath.Join(r.root, HealthMarker))
	return err == nil && info.Mode().IsRegular()
}

// HealthMarkerPath returns the marker file path beside the current link.
func (r *Reader) HealthMarkerPath() string {
	return filepath.Join(r.root, HealthMarker)
}

// ReadManifest decodes the live version's manifest.json.
func (r *Reader) ReadManifest() (Manifest, error) {
	var manifest Manifest
	if err := r.readJSON(ManifestExport, &manifest); err != nil {
		return Manifest{}, err
	}
	if manifest.SchemaVersion != SchemaVersion {
		return Manifest{}, fmt.Errorf("%w: manifest schema %d (want %d)",
			ErrBadPayload, manifest.SchemaVersion, SchemaVersion)
	}
	return manifest, nil
}

// ReadForecasts decodes the live version's forecasts.json.
func (r *Reader) ReadForecasts() (ForecastSet, error) {
	var set ForecastSet
	if err := r.readJSON(ForecastsExport, &set); err != nil {
		return ForecastSet{}, err
	}
	if set.SchemaVersion != SchemaVersion {
		return ForecastSet{}, fmt.Errorf("%w: forecast schema %d (want %d)",
			ErrBadPayload, set.SchemaVersion, SchemaVersion)
	}
	return set, nil
}

// ReadHistory parses the live version's history.csv.
func (r *Reader) ReadHistory() ([]Observation, error) {
	dir, err := r.CurrentDir()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, HistoryExport))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExportMissing, HistoryExport)
	}
	defer f.Close()
	return ReadHistoryCSV(f)
}

func (r *Reader) readJSON(name string, out interface{}) error {
	dir, err := r.CurrentDir()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExportMissing, name)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, name, err)
	}
	return nil
}
