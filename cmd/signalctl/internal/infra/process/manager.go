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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ErrCommandNotFound is returned when a binary cannot be located in PATH.
var ErrCommandNotFound = errors.New("command not found")

// Manager defines the interface for external process execution.
//
// # Description
//
// Manager abstracts exec.Command so callers can be unit tested without
// spawning real processes. Implementations must distinguish between
// three failure modes:
//
//   - The binary could not be started (returned as error)
//   - The binary ran but exited non-zero (returned as exit code, nil error)
//   - The context was cancelled or timed out (returned as error)
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Run executes a command and returns its combined output.
	//
	// Intended for short probe commands where stdout and stderr can be
	// treated as one stream.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in the given working directory with
	// the given environment, capturing stdout and stderr separately.
	//
	// An empty dir means the current working directory. A nil env means
	// the command inherits the parent environment. A non-zero exit code
	// is NOT an error; the caller decides how to treat it.
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout string, stderr string, exitCode int, err error)

	// RunStreaming executes a command and streams its combined output to
	// the writer until the command exits or the context is cancelled.
	//
	// Context cancellation is treated as a clean termination (nil error)
	// since it is the normal way to end follow-style commands.
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// LookPath searches for a binary in PATH.
	//
	// Returns the resolved path, or an error wrapping ErrCommandNotFound
	// if the binary is not available.
	LookPath(name string) (string, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultManager implements Manager using os/exec.
//
// # Thread Safety
//
// DefaultManager is stateless and safe for concurrent use.
type DefaultManager struct{}

// NewDefaultManager creates a new DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command and returns its combined output.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout
//   - name: Binary to execute
//   - args: Command arguments
//
// # Outputs
//
//   - []byte: Combined stdout and stderr
//   - error: If the command could not start, exited non-zero, or was cancelled
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return output, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}
	if err != nil {
		return output, fmt.Errorf("%s failed: %w", name, err)
	}
	return output, nil
}

// RunInDir executes a command with separate stdout/stderr capture.
//
// # Description
//
// Runs the command with the working directory and environment applied.
// A non-zero exit code is returned to the caller without an error so
// callers can inspect stderr and decide how to react.
//
// # Outputs
//
//   - stdout, stderr: Captured output streams
//   - exitCode: Process exit code (0 on success, -1 if never started)
//   - error: Only for start failures and context cancellation
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// Context errors win: a killed process reports exit code -1, which
	// would otherwise mask the timeout.
	if ctx.Err() != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("failed to start %s: %w", name, runErr)
	}

	return stdout.String(), stderr.String(), 0, nil
}

// RunStreaming executes a command streaming combined output to w.
//
// # Description
//
// Used for follow-style commands (log tailing) where output must reach
// the user as it is produced. Context cancellation ends the stream and
// is reported as a clean exit.
func (m *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// LookPath searches for a binary in PATH.
func (m *DefaultManager) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
	}
	return path, nil
}

// Compile-time interface satisfaction check
var _ Manager = (*DefaultManager)(nil)

// =============================================================================
// Mock Implementation
// =============================================================================

// Call records a single invocation on MockManager.
type Call struct {
	// Name is the binary that was requested.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory (RunInDir/RunStreaming only).
	Dir string
}

// MockManager is a test double for Manager.
//
// # Description
//
// Provides a configurable mock implementation for testing.
// Each method can be configured with a custom function.
// Tracks all calls for verification.
//
// # Example
//
//	mock := &MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
//	        return "ok", "", 0, nil
//	    },
//	}
//	_, _, _, _ = mock.RunInDir(ctx, "/stack", nil, "podman-compose", "up")
//	if len(mock.Calls) != 1 {
//	    t.Fatal("expected one call")
//	}
type MockManager struct {
	RunFunc          func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunInDirFunc     func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error
	LookPathFunc     func(name string) (string, error)

	Calls []Call
	mu    sync.Mutex
}

// Run implements Manager.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Name: name, Args: args})
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return []byte{}, nil
}

// RunInDir implements Manager.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Name: name, Args: args, Dir: dir})
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

// RunStreaming implements Manager.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(Call{Name: name, Args: args, Dir: dir})
	if m.RunStreamingFunc != nil {
		return m.RunStreamingFunc(ctx, dir, w, name, args...)
	}
	return nil
}

// LookPath implements Manager.
func (m *MockManager) LookPath(name string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// CallsFor returns recorded calls matching the given binary name.
func (m *MockManager) CallsFor(name string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Call
	for _, c := range m.Calls {
		if c.Name == name {
			matched = append(matched, c)
		}
	}
	return matched
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// Compile-time interface satisfaction check
var _ Manager = (*MockManager)(nil)
