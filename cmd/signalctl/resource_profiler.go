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
Package main provides ResourceProfiler for host capacity detection.

The ResourceProfiler probes CPU count, memory, and platform identity and
builds an immutable ResourceProfile snapshot. The snapshot feeds the preset
recommender, which maps detected capacity to a runtime mode.

# Detection Strategy

On Linux: parses /proc/meminfo (MemTotal, MemAvailable)
On macOS: queries sysctl hw.memsize for total, derives available from vm_stat
Linux kernels running under the Windows compatibility layer are classified
as compat-layer via the kernel release string.

# Degradation

Profiling never fails. Fields that cannot be determined are left nil and
the detection confidence drops from full to partial to none. Callers decide
how to treat a degraded profile; the recommender falls back to the default
mode when required fields are missing.
*/
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/process"
)

// -----------------------------------------------------------------------------
// Profile Types
// -----------------------------------------------------------------------------

// Platform identifies the host operating environment.
type Platform string

const (
	// PlatformLinux is a native Linux host.
	PlatformLinux Platform = "linux"

	// PlatformMacOS is a darwin host with unified memory.
	PlatformMacOS Platform = "macos-family"

	// PlatformCompat is a Linux-kernel guest hosted by a non-Linux OS.
	PlatformCompat Platform = "compat-layer"

	// PlatformUnknown is any platform the profiler cannot classify.
	PlatformUnknown Platform = "unknown"
)

// DetectionConfidence grades how completely hardware was detected.
type DetectionConfidence string

const (
	// ConfidenceFull means cores, total memory, and available memory
	// were all detected.
	ConfidenceFull DetectionConfidence = "full"

	// ConfidencePartial means at least one numeric field was detected.
	ConfidencePartial DetectionConfidence = "partial"

	// ConfidenceNone means no numeric field was detected.
	ConfidenceNone DetectionConfidence = "none"
)

// compatKernelMarker appears in the kernel release string of Linux guests
// running under the Windows compatibility layer.
const compatKernelMarker = "microsoft"

// meminfoPath is the kernel memory report parsed on Linux hosts.
const meminfoPath = "/proc/meminfo"

// ResourceProfile is an immutable snapshot of detected host capacity.
//
// # Description
//
// Numeric fields are pointers: nil means the value could not be detected.
// A profile is built fresh per invocation and never persisted or cached.
type ResourceProfile struct {
	// Platform classifies the host operating environment.
	Platform Platform

	// CPUCores is the logical core count (nil if undetected).
	CPUCores *int

	// TotalMemoryBytes is total physical memory (nil if undetected).
	TotalMemoryBytes *int64

	// AvailableMemoryBytes is reclaimable memory (nil if undetected).
	AvailableMemoryBytes *int64

	// DetectionConfidence grades detection completeness.
	DetectionConfidence DetectionConfidence
}

// -----------------------------------------------------------------------------
// ResourceProfiler Interface
// -----------------------------------------------------------------------------

// ResourceProfiler builds host capacity snapshots.
//
// # Description
//
// Abstracts profiling so the launcher and recommend command can be tested
// with fixed profiles. The default implementation composes a
// HardwareDetector; tests inject mocks at either level.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ResourceProfiler interface {
	// Profile returns a snapshot of detected host capacity.
	//
	// # Description
	//
	// Probes platform, CPU count, and memory. Never returns an error:
	// undetectable fields are nil and confidence degrades instead.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation of detection commands
	//
	// # Outputs
	//
	//   - ResourceProfile: Fresh snapshot, safe to copy
	//
	// # Examples
	//
	//	profiler := NewDefaultResourceProfiler(detector)
	//	profile := profiler.Profile(ctx)
	//	if profile.DetectionConfidence == ConfidenceNone {
	//	    fmt.Println("detection unavailable, using defaults")
	//	}
	Profile(ctx context.Context) ResourceProfile
}

// -----------------------------------------------------------------------------
// HardwareDetector Interface
// -----------------------------------------------------------------------------

// HardwareDetector probes individual hardware facts.
//
// # Description
//
// Each method detects one fact so the profiler can degrade per field.
// The default implementation uses runtime introspection, uname, and
// system commands; tests inject mocks.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type HardwareDetector interface {
	// GetCPUCores returns the number of logical CPU cores.
	//
	// # Outputs
	//
	//   - int: Core count
	//   - error: Non-nil if detection fails
	GetCPUCores(ctx context.Context) (int, error)

	// GetOS returns the operating system identifier.
	//
	// # Outputs
	//
	//   - string: runtime.GOOS style value ("linux", "darwin", ...)
	GetOS() string

	// GetKernelRelease returns the kernel release string.
	//
	// # Description
	//
	// Used to distinguish native Linux from compatibility-layer guests.
	//
	// # Outputs
	//
	//   - string: Kernel release (e.g. "6.8.0-41-generic")
	//   - error: Non-nil if uname fails
	GetKernelRelease() (string, error)

	// GetTotalMemory returns total physical memory in bytes.
	//
	// # Outputs
	//
	//   - int64: Total memory in bytes
	//   - error: Non-nil if detection fails or is unsupported
	GetTotalMemory(ctx context.Context) (int64, error)

	// GetAvailableMemory returns reclaimable memory in bytes.
	//
	// # Description
	//
	// On Linux this is MemAvailable; on macOS it is the sum of free,
	// inactive, and purgeable pages times the page size.
	//
	// # Outputs
	//
	//   - int64: Available memory in bytes
	//   - error: Non-nil if detection fails or is unsupported
	GetAvailableMemory(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// DefaultResourceProfiler Implementation
// -----------------------------------------------------------------------------

// DefaultResourceProfiler implements ResourceProfiler over a HardwareDetector.
//
// # Thread Safety
//
// DefaultResourceProfiler is safe for concurrent use.
type DefaultResourceProfiler struct {
	// detector probes individual hardware facts.
	detector HardwareDetector
}

// NewDefaultResourceProfiler creates a profiler with the given detector.
//
// # Inputs
//
//   - detector: HardwareDetector for probing the host
//
// # Outputs
//
//   - *DefaultResourceProfiler: Ready-to-use profiler
//
// # Examples
//
//	proc := process.NewDefaultManager()
//	profiler := NewDefaultResourceProfiler(NewDefaultHardwareDetector(proc))
//	profile := profiler.Profile(ctx)
func NewDefaultResourceProfiler(detector HardwareDetector) *DefaultResourceProfiler {
	return &DefaultResourceProfiler{
		detector: detector,
	}
}

// Profile returns a snapshot of detected host capacity.
//
// # Description
//
// Every probe failure degrades the affected field to nil rather than
// failing the profile. Platform classification tolerates a missing kernel
// release by treating it as empty.
//
// # Inputs
//
//   - ctx: Context for cancellation of detection commands
//
// # Outputs
//
//   - ResourceProfile: Fresh snapshot with confidence graded per field
func (p *DefaultResourceProfiler) Profile(ctx context.Context) ResourceProfile {
	release, err := p.detector.GetKernelRelease()
	if err != nil {
		release = ""
	}

	profile := ResourceProfile{
		Platform: classifyPlatform(p.detector.GetOS(), release),
	}

	if cores, err := p.detector.GetCPUCores(ctx); err == nil && cores >= 1 {
		profile.CPUCores = &cores
	}
	if total, err := p.detector.GetTotalMemory(ctx); err == nil && total >= 0 {
		profile.TotalMemoryBytes = &total
	}
	if avail, err := p.detector.GetAvailableMemory(ctx); err == nil && avail >= 0 {
		profile.AvailableMemoryBytes = &avail
	}

	profile.DetectionConfidence = confidenceFor(profile)
	return profile
}

// classifyPlatform maps an OS identifier and kernel release to a Platform.
//
// # Description
//
// A Linux kernel whose release string contains the compatibility-layer
// marker (case-insensitive) is classified compat-layer rather than linux.
func classifyPlatform(goos, kernelRelease string) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "linux":
		if strings.Contains(strings.ToLower(kernelRelease), compatKernelMarker) {
			return PlatformCompat
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// confidenceFor grades a profile by how many numeric fields were detected.
func confidenceFor(profile ResourceProfile) DetectionConfidence {
	detected := 0
	if profile.CPUCores != nil {
		detected++
	}
	if profile.TotalMemoryBytes != nil {
		detected++
	}
	if profile.AvailableMemoryBytes != nil {
		detected++
	}

	switch detected {
	case 3:
		return ConfidenceFull
	case 0:
		return ConfidenceNone
	default:
		return ConfidencePartial
	}
}

// -----------------------------------------------------------------------------
// DefaultHardwareDetector Implementation
// -----------------------------------------------------------------------------

// DefaultHardwareDetector probes hardware using the running system.
//
// # Description
//
// Uses runtime introspection for cores and OS, uname for the kernel
// release, /proc/meminfo on Linux, and sysctl/vm_stat via ProcessManager
// on macOS.
//
// # Thread Safety
//
// DefaultHardwareDetector is safe for concurrent use.
type DefaultHardwareDetector struct {
	// proc executes system commands on macOS.
	proc process.Manager
}

// NewDefaultHardwareDetector creates a detector with the given process manager.
//
// # Inputs
//
//   - proc: ProcessManager for command execution
//
// # Outputs
//
//   - *DefaultHardwareDetector: Ready-to-use detector
func NewDefaultHardwareDetector(proc process.Manager) *DefaultHardwareDetector {
	return &DefaultHardwareDetector{
		proc: proc,
	}
}

// GetCPUCores returns the number of logical CPU cores.
//
// # Description
//
// Uses runtime.NumCPU() for portability. Always succeeds.
func (d *DefaultHardwareDetector) GetCPUCores(_ context.Context) (int, error) {
	return runtime.NumCPU(), nil
}

// GetOS returns runtime.GOOS.
func (d *DefaultHardwareDetector) GetOS() string {
	return runtime.GOOS
}

// GetKernelRelease returns the kernel release string via uname.
//
// # Outputs
//
//   - string: Release field of utsname
//   - error: Non-nil if the uname syscall fails
func (d *DefaultHardwareDetector) GetKernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// GetTotalMemory returns total physical memory in bytes.
//
// # Description
//
// On Linux: MemTotal from /proc/meminfo
// On macOS: sysctl hw.memsize (unified memory)
// Elsewhere: unsupported
//
// # Inputs
//
//   - ctx: Context for cancellation
//
// # Outputs
//
//   - int64: Total memory in bytes
//   - error: Non-nil if detection fails
func (d *DefaultHardwareDetector) GetTotalMemory(ctx context.Context) (int64, error) {
	switch runtime.GOOS {
	case "darwin":
		return d.getDarwinTotalMemory(ctx)
	case "linux":
		data, err := os.ReadFile(meminfoPath)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", meminfoPath, err)
		}
		return parseMeminfoField(data, "MemTotal")
	default:
		return 0, fmt.Errorf("memory detection not supported on %s", runtime.GOOS)
	}
}

// GetAvailableMemory returns reclaimable memory in bytes.
//
// # Description
//
// On Linux: MemAvailable from /proc/meminfo
// On macOS: free + inactive + purgeable pages from vm_stat
// Elsewhere: unsupported
//
// # Inputs
//
//   - ctx: Context for cancellation
//
// # Outputs
//
//   - int64: Available memory in bytes
//   - error: Non-nil if detection fails
func (d *DefaultHardwareDetector) GetAvailableMemory(ctx context.Context) (int64, error) {
	switch runtime.GOOS {
	case "darwin":
		return d.getDarwinAvailableMemory(ctx)
	case "linux":
		data, err := os.ReadFile(meminfoPath)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", meminfoPath, err)
		}
		return parseMeminfoField(data, "MemAvailable")
	default:
		return 0, fmt.Errorf("memory detection not supported on %s", runtime.GOOS)
	}
}

// getDarwinTotalMemory queries sysctl hw.memsize for unified memory.
func (d *DefaultHardwareDetector) getDarwinTotalMemory(ctx context.Context) (int64, error) {
	output, err := d.proc.Run(ctx, "sysctl", "-n", "hw.memsize")
	if err != nil {
		return 0, fmt.Errorf("sysctl failed: %w", err)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse memory size: %w", err)
	}
	return value, nil
}

// getDarwinAvailableMemory derives reclaimable memory from vm_stat.
func (d *DefaultHardwareDetector) getDarwinAvailableMemory(ctx context.Context) (int64, error) {
	output, err := d.proc.Run(ctx, "vm_stat")
	if err != nil {
		return 0, fmt.Errorf("vm_stat failed: %w", err)
	}
	return parseVMStat(output)
}

// -----------------------------------------------------------------------------
// Output Parsers
// -----------------------------------------------------------------------------

// parseMeminfoField extracts one field from /proc/meminfo content as bytes.
//
// # Description
//
// Field values in meminfo are reported in kB. Returns an error if the
// field is absent or malformed.
//
// # Inputs
//
//   - data: Raw meminfo content
//   - field: Field name without the colon (e.g. "MemTotal")
//
// # Outputs
//
//   - int64: Field value converted to bytes
//   - error: Non-nil if the field is missing or unparseable
func parseMeminfoField(data []byte, field string) (int64, error) {
	prefix := field + ":"

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unexpected format for %s in meminfo", field)
		}

		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		return kb * 1024, nil
	}

	return 0, fmt.Errorf("%s not found in meminfo", field)
}

// vmStatCountedPages are the page classes treated as reclaimable.
var vmStatCountedPages = []string{"Pages free", "Pages inactive", "Pages purgeable"}

// parseVMStat derives available memory in bytes from vm_stat output.
//
// # Description
//
// Reads the page size from the header line and sums the reclaimable page
// classes. Page classes absent from the output are skipped; at least one
// must be present.
//
// # Inputs
//
//   - data: Raw vm_stat output
//
// # Outputs
//
//   - int64: Reclaimable memory in bytes
//   - error: Non-nil if the page size or all page counts are missing
func parseVMStat(data []byte) (int64, error) {
	var pageSize int64
	var totalPages int64
	counted := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()

		if pageSize == 0 {
			if size, ok := parseVMStatPageSize(line); ok {
				pageSize = size
				continue
			}
		}

		for _, name := range vmStatCountedPages {
			if strings.HasPrefix(line, name+":") {
				count, err := parseVMStatCount(line)
				if err != nil {
					return 0, err
				}
				totalPages += count
				counted++
			}
		}
	}

	if pageSize == 0 {
		return 0, fmt.Errorf("page size not found in vm_stat output")
	}
	if counted == 0 {
		return 0, fmt.Errorf("no page counts found in vm_stat output")
	}
	return totalPages * pageSize, nil
}

// parseVMStatPageSize extracts the page size from the vm_stat header line.
func parseVMStatPageSize(line string) (int64, bool) {
	const marker = "page size of "

	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0, false
	}

	rest := line[idx+len(marker):]
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		return 0, false
	}

	size, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil || size <= 0 {
		return 0, false
	}
	return size, true
}

// parseVMStatCount extracts the page count from a vm_stat statistics line.
func parseVMStatCount(line string) (int64, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed vm_stat line: %q", line)
	}

	value := strings.TrimSuffix(strings.TrimSpace(parts[1]), ".")
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse vm_stat count: %w", err)
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Mock Implementations for Testing
// -----------------------------------------------------------------------------

// MockHardwareDetector is a test double for HardwareDetector.
//
// # Description
//
// Provides configurable behavior per probe. Unset functions return a
// default well-provisioned Linux host (8 cores, 16 GiB total, 8 GiB
// available).
//
// # Thread Safety
//
// MockHardwareDetector is safe for concurrent use when functions are set
// before first use.
type MockHardwareDetector struct {
	// GetCPUCoresFunc is called by GetCPUCores.
	GetCPUCoresFunc func(ctx context.Context) (int, error)

	// GetOSFunc is called by GetOS.
	GetOSFunc func() string

	// GetKernelReleaseFunc is called by GetKernelRelease.
	GetKernelReleaseFunc func() (string, error)

	// GetTotalMemoryFunc is called by GetTotalMemory.
	GetTotalMemoryFunc func(ctx context.Context) (int64, error)

	// GetAvailableMemoryFunc is called by GetAvailableMemory.
	GetAvailableMemoryFunc func(ctx context.Context) (int64, error)
}

// NewMockHardwareDetector creates a mock with default values.
func NewMockHardwareDetector() *MockHardwareDetector {
	return &MockHardwareDetector{}
}

// GetCPUCores invokes GetCPUCoresFunc or returns 8.
func (m *MockHardwareDetector) GetCPUCores(ctx context.Context) (int, error) {
	if m.GetCPUCoresFunc != nil {
		return m.GetCPUCoresFunc(ctx)
	}
	return 8, nil
}

// GetOS invokes GetOSFunc or returns "linux".
func (m *MockHardwareDetector) GetOS() string {
	if m.GetOSFunc != nil {
		return m.GetOSFunc()
	}
	return "linux"
}

// GetKernelRelease invokes GetKernelReleaseFunc or returns a generic release.
func (m *MockHardwareDetector) GetKernelRelease() (string, error) {
	if m.GetKernelReleaseFunc != nil {
		return m.GetKernelReleaseFunc()
	}
	return "6.8.0-41-generic", nil
}

// GetTotalMemory invokes GetTotalMemoryFunc or returns 16 GiB.
func (m *MockHardwareDetector) GetTotalMemory(ctx context.Context) (int64, error) {
	if m.GetTotalMemoryFunc != nil {
		return m.GetTotalMemoryFunc(ctx)
	}
	return 16 * giB, nil
}

// GetAvailableMemory invokes GetAvailableMemoryFunc or returns 8 GiB.
func (m *MockHardwareDetector) GetAvailableMemory(ctx context.Context) (int64, error) {
	if m.GetAvailableMemoryFunc != nil {
		return m.GetAvailableMemoryFunc(ctx)
	}
	return 8 * giB, nil
}

// MockResourceProfiler is a test double for ResourceProfiler.
//
// # Description
//
// Returns a fixed profile from ProfileFunc, or a fully detected default
// Linux host when unset.
type MockResourceProfiler struct {
	// ProfileFunc is called by Profile.
	ProfileFunc func(ctx context.Context) ResourceProfile
}

// Profile invokes ProfileFunc or returns a default detected profile.
func (m *MockResourceProfiler) Profile(ctx context.Context) ResourceProfile {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx)
	}

	cores := 8
	total := int64(16 * giB)
	avail := int64(8 * giB)
	return ResourceProfile{
		Platform:             PlatformLinux,
		CPUCores:             &cores,
		TotalMemoryBytes:     &total,
		AvailableMemoryBytes: &avail,
		DetectionConfidence:  ConfidenceFull,
	}
}

// -----------------------------------------------------------------------------
// Compile-time Interface Compliance Checks
// -----------------------------------------------------------------------------

var _ ResourceProfiler = (*DefaultResourceProfiler)(nil)
var _ ResourceProfiler = (*MockResourceProfiler)(nil)
var _ HardwareDetector = (*DefaultHardwareDetector)(nil)
var _ HardwareDetector = (*MockHardwareDetector)(nil)
