// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package config contains unit tests for configuration types.

# Testing Strategy

These tests verify:
  - Default values are correctly applied
  - Getter methods return expected values
  - ConfigMeta is properly initialized
  - PresetName validation works correctly
*/
package config

import (
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// PresetName Tests
// -----------------------------------------------------------------------------

// TestPresetName_IsValid verifies the IsValid method.
func TestPresetName_IsValid(t *testing.T) {
	tests := []struct {
		preset   PresetName
		expected bool
	}{
		{PresetLowPower, true},
		{PresetDefault, true},
		{PresetHighPerformance, true},
		{PresetName(""), true},
		{PresetName("turbo"), false},
		{PresetName("Default"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			if got := tt.preset.IsValid(); got != tt.expected {
				t.Errorf("PresetName(%q).IsValid() = %v, want %v",
					tt.preset, got, tt.expected)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// StackConfig Tests
// -----------------------------------------------------------------------------

// TestStackConfig_GetDir verifies default fallback.
func TestStackConfig_GetDir(t *testing.T) {
	tests := []struct {
		name     string
		config   StackConfig
		expected string
	}{
		{
			name:     "returns configured value",
			config:   StackConfig{Dir: "/opt/signal/deploy"},
			expected: "/opt/signal/deploy",
		},
		{
			name:     "returns default when empty",
			config:   StackConfig{},
			expected: DefaultStackDir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetDir(); got != tt.expected {
				t.Errorf("GetDir() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestStackConfig_GetArtifactDir verifies derivation from the stack dir.
func TestStackConfig_GetArtifactDir(t *testing.T) {
	tests := []struct {
		name     string
		config   StackConfig
		expected string
	}{
		{
			name:     "returns configured value",
			config:   StackConfig{ArtifactDir: "/srv/artifacts"},
			expected: "/srv/artifacts",
		},
		{
			name:     "derives from configured stack dir",
			config:   StackConfig{Dir: "/opt/deploy"},
			expected: "/opt/deploy/data/artifacts",
		},
		{
			name:     "derives from default stack dir",
			config:   StackConfig{},
			expected: "deploy/data/artifacts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetArtifactDir(); got != tt.expected {
				t.Errorf("GetArtifactDir() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// EndpointsConfig Tests
// -----------------------------------------------------------------------------

// TestEndpointsConfig_GetAPIBaseURL verifies default fallback.
func TestEndpointsConfig_GetAPIBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		config   EndpointsConfig
		expected string
	}{
		{
			name:     "returns configured value",
			config:   EndpointsConfig{APIBaseURL: "http://custom:9000"},
			expected: "http://custom:9000",
		},
		{
			name:     "returns default when empty",
			config:   EndpointsConfig{},
			expected: DefaultAPIBaseURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetAPIBaseURL(); got != tt.expected {
				t.Errorf("GetAPIBaseURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ValidationConfig Tests
// -----------------------------------------------------------------------------

// TestValidationConfig_GetStartupTimeout verifies defaults and conversion.
func TestValidationConfig_GetStartupTimeout(t *testing.T) {
	tests := []struct {
		name     string
		config   ValidationConfig
		expected time.Duration
	}{
		{
			name:     "returns configured value",
			config:   ValidationConfig{StartupTimeoutSec: 30},
			expected: 30 * time.Second,
		},
		{
			name:     "returns default when zero",
			config:   ValidationConfig{},
			expected: DefaultStartupTimeoutSec * time.Second,
		},
		{
			name:     "returns default when negative",
			config:   ValidationConfig{StartupTimeoutSec: -5},
			expected: DefaultStartupTimeoutSec * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetStartupTimeout(); got != tt.expected {
				t.Errorf("GetStartupTimeout() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestValidationConfig_GetLatencyThreshold verifies defaults and conversion.
func TestValidationConfig_GetLatencyThreshold(t *testing.T) {
	cfg := ValidationConfig{LatencyThresholdMS: 250}
	if got := cfg.GetLatencyThreshold(); got != 250*time.Millisecond {
		t.Errorf("GetLatencyThreshold() = %v, want %v", got, 250*time.Millisecond)
	}

	empty := ValidationConfig{}
	if got := empty.GetLatencyThreshold(); got != DefaultLatencyThresholdMS*time.Millisecond {
		t.Errorf("GetLatencyThreshold() = %v, want default %v",
			got, DefaultLatencyThresholdMS*time.Millisecond)
	}
}

// -----------------------------------------------------------------------------
// ConfigMeta Tests
// -----------------------------------------------------------------------------

// TestNewConfigMeta verifies metadata initialization.
func TestNewConfigMeta(t *testing.T) {
	before := time.Now().UnixMilli()
	meta := newConfigMeta()
	after := time.Now().UnixMilli()

	// Check version
	if meta.Version != CurrentConfigVersion {
		t.Errorf("Version = %q, want %q", meta.Version, CurrentConfigVersion)
	}

	// Check ModifiedBy
	if meta.ModifiedBy != "signalctl" {
		t.Errorf("ModifiedBy = %q, want %q", meta.ModifiedBy, "signalctl")
	}

	// Verify timestamps are within bounds
	if meta.CreatedAt < before || meta.CreatedAt > after {
		t.Errorf("CreatedAt %d not between %d and %d", meta.CreatedAt, before, after)
	}

	if meta.ModifiedAt < before || meta.ModifiedAt > after {
		t.Errorf("ModifiedAt %d not between %d and %d", meta.ModifiedAt, before, after)
	}

	// CreatedAt and ModifiedAt should be equal for new config
	if meta.CreatedAt != meta.ModifiedAt {
		t.Errorf("CreatedAt (%d) != ModifiedAt (%d) for new config",
			meta.CreatedAt, meta.ModifiedAt)
	}
}

// TestConfigMeta_TimeConversion verifies timestamp helper methods.
func TestConfigMeta_TimeConversion(t *testing.T) {
	now := time.Now()
	meta := ConfigMeta{
		CreatedAt:  now.UnixMilli(),
		ModifiedAt: now.UnixMilli(),
	}

	createdTime := meta.CreatedAtTime()
	modifiedTime := meta.ModifiedAtTime()

	// Allow 1ms tolerance due to conversion precision
	if createdTime.Sub(now).Abs() > time.Millisecond {
		t.Errorf("CreatedAtTime() differs by more than 1ms from original")
	}

	if modifiedTime.Sub(now).Abs() > time.Millisecond {
		t.Errorf("ModifiedAtTime() differs by more than 1ms from original")
	}
}

// -----------------------------------------------------------------------------
// DefaultConfig Tests
// -----------------------------------------------------------------------------

// TestDefaultConfig_HasMeta verifies metadata is included.
func TestDefaultConfig_HasMeta(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Meta.Version == "" {
		t.Error("Meta.Version should not be empty")
	}

	if cfg.Meta.CreatedAt == 0 {
		t.Error("Meta.CreatedAt should not be zero")
	}

	if cfg.Meta.ModifiedAt == 0 {
		t.Error("Meta.ModifiedAt should not be zero")
	}

	if cfg.Meta.ModifiedBy == "" {
		t.Error("Meta.ModifiedBy should not be empty")
	}
}

// TestDefaultConfig_EndpointDefaults verifies endpoint configuration.
func TestDefaultConfig_EndpointDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Endpoints.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("Endpoints.APIBaseURL = %q, want %q",
			cfg.Endpoints.APIBaseURL, DefaultAPIBaseURL)
	}

	if cfg.Endpoints.DashboardURL != DefaultDashboardURL {
		t.Errorf("Endpoints.DashboardURL = %q, want %q",
			cfg.Endpoints.DashboardURL, DefaultDashboardURL)
	}

	if cfg.Endpoints.ForecasterURL != DefaultForecasterURL {
		t.Errorf("Endpoints.ForecasterURL = %q, want %q",
			cfg.Endpoints.ForecasterURL, DefaultForecasterURL)
	}
}

// TestDefaultConfig_FeatureDefaults verifies feature toggles.
func TestDefaultConfig_FeatureDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Features.Research {
		t.Error("Features.Research should be false by default")
	}

	if cfg.Features.SnapshotMirror {
		t.Error("Features.SnapshotMirror should be false by default")
	}
}

// TestDefaultConfig_PresetUnpinned verifies presets start unpinned.
func TestDefaultConfig_PresetUnpinned(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Preset.Pinned != "" {
		t.Errorf("Preset.Pinned should be empty, got %q", cfg.Preset.Pinned)
	}
}

// TestDefaultConfig_Validates verifies the default config passes validation.
func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() should validate, got: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Validate Tests
// -----------------------------------------------------------------------------

// TestValidate_BadURL verifies URL fields are checked.
func TestValidate_BadURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints.APIBaseURL = "not a url"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should reject malformed URL")
	}
}

// TestValidate_BadPreset verifies the pinned preset enum is checked.
func TestValidate_BadPreset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preset.Pinned = PresetName("overdrive")

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should reject unknown preset")
	}
	if !strings.Contains(err.Error(), "overdrive") {
		t.Errorf("error should name the bad preset, got: %v", err)
	}
}

// TestValidate_NegativeTimeout verifies min constraints.
func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Validation.StartupTimeoutSec = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should reject negative timeout")
	}
}

// -----------------------------------------------------------------------------
// Constants Tests
// -----------------------------------------------------------------------------

// TestConstants verifies constant values are as expected.
func TestConstants(t *testing.T) {
	if DefaultProjectName != "aleutiansignal" {
		t.Errorf("DefaultProjectName = %q, want %q",
			DefaultProjectName, "aleutiansignal")
	}

	if DefaultAPIBaseURL != "http://localhost:12300" {
		t.Errorf("DefaultAPIBaseURL = %q, want %q",
			DefaultAPIBaseURL, "http://localhost:12300")
	}

	if DefaultDashboardURL != "http://localhost:12310" {
		t.Errorf("DefaultDashboardURL = %q, want %q",
			DefaultDashboardURL, "http://localhost:12310")
	}

	if DefaultForecasterURL != "http://localhost:12320" {
		t.Errorf("DefaultForecasterURL = %q, want %q",
			DefaultForecasterURL, "http://localhost:12320")
	}

	if CurrentConfigVersion != "1.0.0" {
		t.Errorf("CurrentConfigVersion = %q, want %q",
			CurrentConfigVersion, "1.0.0")
	}
}
