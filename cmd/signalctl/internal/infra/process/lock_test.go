// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultProcessLockConfig(t *testing.T) {
	t.Parallel()

	config := DefaultProcessLockConfig()
	if config.LockDir != os.TempDir() {
		t.Errorf("LockDir = %q, want temp dir", config.LockDir)
	}
	if config.LockName != "signalctl" {
		t.Errorf("LockName = %q, want signalctl", config.LockName)
	}
}

func TestNewProcessLock_AppliesDefaults(t *testing.T) {
	t.Parallel()

	lock := NewProcessLock(ProcessLockConfig{})
	if !strings.Contains(lock.LockPath(), "signalctl.lock") {
		t.Errorf("LockPath = %q, want signalctl.lock suffix", lock.LockPath())
	}
	if !strings.Contains(lock.PIDPath(), "signalctl.pid") {
		t.Errorf("PIDPath = %q, want signalctl.pid suffix", lock.PIDPath())
	}
}

func TestProcessLock_AcquireRelease(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if lock.IsHeld() {
		t.Error("lock should not be held before Acquire")
	}

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if !lock.IsHeld() {
		t.Error("lock should be held after Acquire")
	}

	// PID file should contain our PID
	if lock.HolderPID() != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", lock.HolderPID(), os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() returned error: %v", err)
	}
	if lock.IsHeld() {
		t.Error("lock should not be held after Release")
	}

	// PID file should be removed
	if _, err := os.Stat(lock.PIDPath()); !os.IsNotExist(err) {
		t.Error("PID file should be removed after Release")
	}
}

func TestProcessLock_AcquireTwice_Idempotent(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("first Acquire() returned error: %v", err)
	}
	defer lock.Release()

	if err := lock.Acquire(); err != nil {
		t.Errorf("second Acquire() returned error: %v", err)
	}
}

func TestProcessLock_ReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if err := lock.Release(); err != nil {
		t.Errorf("Release() without Acquire returned error: %v", err)
	}
}

func TestProcessLock_SecondInstanceBlocked(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	first := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})
	second := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire() returned error: %v", err)
	}
	defer first.Release()

	err := second.Acquire()
	if err == nil {
		second.Release()
		t.Fatal("second Acquire() should fail while first holds the lock")
	}
	if !strings.Contains(err.Error(), "another signalctl instance") {
		t.Errorf("error = %v, want 'another signalctl instance'", err)
	}

	// After first releases, second can acquire
	if err := first.Release(); err != nil {
		t.Fatalf("Release() returned error: %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Errorf("Acquire() after release returned error: %v", err)
	}
	second.Release()
}

func TestProcessLock_HolderPID_NoFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if pid := lock.HolderPID(); pid != 0 {
		t.Errorf("HolderPID = %d, want 0 with no PID file", pid)
	}
}

func TestProcessLock_HolderPID_Garbage(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: tmpDir, LockName: "test"})

	if err := os.WriteFile(filepath.Join(tmpDir, "test.pid"), []byte("not-a-pid"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	if pid := lock.HolderPID(); pid != 0 {
		t.Errorf("HolderPID = %d, want 0 for unparseable file", pid)
	}
}

func TestProcessLock_AcquireBadDir(t *testing.T) {
	t.Parallel()

	lock := NewProcessLock(ProcessLockConfig{
		LockDir:  "/proc/nonexistent/nope",
		LockName: "test",
	})

	if err := lock.Acquire(); err == nil {
		lock.Release()
		t.Error("Acquire() should fail for unwritable directory")
	}
}
