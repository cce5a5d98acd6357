// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion is written into new config files and checked on load.
const CurrentConfigVersion = "1.0.0"

// Defaults applied by the getter methods when a field is unset.
const (
	DefaultStackDir           = "deploy"
	DefaultProjectName        = "aleutiansignal"
	DefaultAPIBaseURL         = "http://localhost:12300"
	DefaultDashboardURL       = "http://localhost:12310"
	DefaultForecasterURL      = "http://localhost:12320"
	DefaultStartupTimeoutSec  = 120
	DefaultLatencyThresholdMS = 500
)

// PresetName identifies a runtime budget preset in configuration.
//
// The empty string means no preset is pinned and the CLI auto-detects.
type PresetName string

const (
	PresetLowPower        PresetName = "low-power"
	PresetDefault         PresetName = "default"
	PresetHighPerformance PresetName = "high-performance"
)

// IsValid reports whether the preset names a known budget mode.
// The empty string is valid and means "not pinned".
func (p PresetName) IsValid() bool {
	switch p {
	case "", PresetLowPower, PresetDefault, PresetHighPerformance:
		return true
	default:
		return false
	}
}

type SignalConfig struct {
	// Meta: version and modification tracking for the config file itself
	Meta ConfigMeta `yaml:"meta"`

	// Stack: where the compose manifests and shared artifacts live
	Stack StackConfig `yaml:"stack"`

	// Preset: pinned runtime budget preset (empty = auto-detect)
	Preset PresetConfig `yaml:"preset"`

	// Endpoints: service URLs probed by validate
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Validation: tunables for the validate command
	Validation ValidationConfig `yaml:"validation"`

	// Features: toggles for optional stack roles and behaviors
	Features FeatureConfig `yaml:"features"`
}

type ConfigMeta struct {
	Version    string `yaml:"version"`
	CreatedAt  int64  `yaml:"created_at"`  // unix millis
	ModifiedAt int64  `yaml:"modified_at"` // unix millis
	ModifiedBy string `yaml:"modified_by"`
}

// CreatedAtTime converts the millisecond timestamp to time.Time.
func (m ConfigMeta) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// ModifiedAtTime converts the millisecond timestamp to time.Time.
func (m ConfigMeta) ModifiedAtTime() time.Time {
	return time.UnixMilli(m.ModifiedAt)
}

func newConfigMeta() ConfigMeta {
	now := time.Now().UnixMilli()
	return ConfigMeta{
		Version:    CurrentConfigVersion,
		CreatedAt:  now,
		ModifiedAt: now,
		ModifiedBy: "signalctl",
	}
}

type StackConfig struct {
	Dir         string `yaml:"dir"`          // e.g. "deploy" or an absolute path
	ProjectName string `yaml:"project_name"` // compose project name
	ArtifactDir string `yaml:"artifact_dir"` // host path of the shared artifact volume
}

// GetDir returns the configured stack directory or the default.
func (s StackConfig) GetDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return DefaultStackDir
}

// GetProjectName returns the configured project name or the default.
func (s StackConfig) GetProjectName() string {
	if s.ProjectName != "" {
		return s.ProjectName
	}
	return DefaultProjectName
}

// GetArtifactDir returns the configured artifact directory, falling back
// to data/artifacts under the stack directory.
func (s StackConfig) GetArtifactDir() string {
	if s.ArtifactDir != "" {
		return s.ArtifactDir
	}
	return filepath.Join(s.GetDir(), "data", "artifacts")
}

type PresetConfig struct {
	// Pinned skips hardware detection and always launches this preset.
	Pinned PresetName `yaml:"pinned,omitempty"`
}

type EndpointsConfig struct {
	APIBaseURL    string `yaml:"api_base_url,omitempty" validate:"omitempty,url"`
	DashboardURL  string `yaml:"dashboard_url,omitempty" validate:"omitempty,url"`
	ForecasterURL string `yaml:"forecaster_url,omitempty" validate:"omitempty,url"`
}

// GetAPIBaseURL returns the configured API base URL or the default.
func (e EndpointsConfig) GetAPIBaseURL() string {
	if e.APIBaseURL != "" {
		return e.APIBaseURL
	}
	return DefaultAPIBaseURL
}

// GetDashboardURL returns the configured dashboard URL or the default.
func (e EndpointsConfig) GetDashboardURL() string {
	if e.DashboardURL != "" {
		return e.DashboardURL
	}
	return DefaultDashboardURL
}

// GetForecasterURL returns the configured forecaster URL or the default.
func (e EndpointsConfig) GetForecasterURL() string {
	if e.ForecasterURL != "" {
		return e.ForecasterURL
	}
	return DefaultForecasterURL
}

type ValidationConfig struct {
	StartupTimeoutSec  int `yaml:"startup_timeout_sec,omitempty" validate:"omitempty,min=1"`
	LatencyThresholdMS int `yaml:"latency_threshold_ms,omitempty" validate:"omitempty,min=1"`
}

// GetStartupTimeout returns the startup wait timeout as a duration.
func (v ValidationConfig) GetStartupTimeout() time.Duration {
	if v.StartupTimeoutSec > 0 {
		return time.Duration(v.StartupTimeoutSec) * time.Second
	}
	return DefaultStartupTimeoutSec * time.Second
}

// GetLatencyThreshold returns the per-endpoint latency threshold.
func (v ValidationConfig) GetLatencyThreshold() time.Duration {
	if v.LatencyThresholdMS > 0 {
		return time.Duration(v.LatencyThresholdMS) * time.Millisecond
	}
	return DefaultLatencyThresholdMS * time.Millisecond
}

type FeatureConfig struct {
	// Research activates the signal-research role on launch.
	Research bool `yaml:"research"`

	// SnapshotMirror enables the forecaster's cloud snapshot mirror.
	SnapshotMirror bool `yaml:"snapshot_mirror"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SignalConfig {
	return SignalConfig{
		Meta: newConfigMeta(),
		Stack: StackConfig{
			Dir:         DefaultStackDir,
			ProjectName: DefaultProjectName,
		},
		Preset: PresetConfig{},
		Endpoints: EndpointsConfig{
			APIBaseURL:    DefaultAPIBaseURL,
			DashboardURL:  DefaultDashboardURL,
			ForecasterURL: DefaultForecasterURL,
		},
		Validation: ValidationConfig{
			StartupTimeoutSec:  DefaultStartupTimeoutSec,
			LatencyThresholdMS: DefaultLatencyThresholdMS,
		},
		Features: FeatureConfig{
			Research:       false,
			SnapshotMirror: false,
		},
	}
}

// Validate checks field constraints and enum values.
//
// Struct tags are checked with go-playground/validator; the pinned preset
// is checked separately because validator has no enum support for typed
// strings with an allowed empty value.
func (c *SignalConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if !c.Preset.Pinned.IsValid() {
		return fmt.Errorf("config validation failed: unknown preset %q (expected low-power, default, or high-performance)", c.Preset.Pinned)
	}
	return nil
}
