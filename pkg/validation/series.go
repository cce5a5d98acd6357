// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// store keys, URL paths, or upstream query parameters. Using these validators
// prevents injection attacks (key/path traversal, query injection).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// seriesPattern matches valid observation series names.
// Allows: uppercase letters, digits, dots (BRK.A), hyphens (BTC-USD)
// Max length: 12 characters (covers exchange symbols and pair names)
var seriesPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)

// ValidateSeries validates a series name before it is used in a store key,
// a URL path segment, or an upstream query parameter.
//
// Valid series names:
//   - 1-12 characters
//   - Uppercase letters A-Z
//   - Digits 0-9
//   - Dots (.) for class shares like BRK.A
//   - Hyphens (-) for pairs like BTC-USD
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateSeries(series); err != nil {
//	    return nil, fmt.Errorf("invalid series: %w", err)
//	}
//	// Safe to use as a store key component
func ValidateSeries(series string) error {
	if series == "" {
		return fmt.Errorf("series cannot be empty")
	}

	if !seriesPattern.MatchString(series) {
		return fmt.Errorf("invalid series format: %q (must be 1-12 uppercase alphanumeric chars, dots, or hyphens)", series)
	}

	return nil
}

// ValidateSeriesList validates multiple series names.
// Returns an error listing all invalid names if any fail validation.
func ValidateSeriesList(series []string) error {
	var invalid []string
	for _, s := range series {
		if err := ValidateSeries(s); err != nil {
			invalid = append(invalid, s)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid series: %v", invalid)
	}
	return nil
}

// SanitizeSeries normalizes and validates a series name.
// Returns the uppercase name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeSeries, err := validation.SanitizeSeries(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeSeries is uppercase and validated
func SanitizeSeries(series string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(series))
	if err := ValidateSeries(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
