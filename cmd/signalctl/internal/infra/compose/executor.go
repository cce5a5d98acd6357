package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSignal/cmd/signalctl/internal/infra/process"
	"github.com/AleutianAI/AleutianSignal/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeNotFound is returned when podman-compose binary is not available.
	ErrComposeNotFound = errors.New("podman-compose not found")

	// ErrComposeFileMissing is returned when a required compose file doesn't exist.
	// Unlike optional override files in other compose tooling, every file
	// configured here is required: a missing overlay aborts the operation
	// before any compose command is issued.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrCleanupPartial is returned when cleanup completes with some errors.
	ErrCleanupPartial = errors.New("cleanup completed with errors")

	// ErrInvalidConfig is returned when ComposeConfig is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection attacks through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This prevents shell metacharacter injection and other config attacks.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor manages podman-compose operations for the signal stack.
//
// # Description
//
// This interface abstracts all interactions with podman-compose, enabling
// testable orchestration of container services. It handles compose file
// layering (base manifest plus an optional mode overlay applied last),
// profile activation, environment injection, and provides both graceful
// and forceful container management.
//
// # File Layering
//
// The base manifest is always passed first; the overlay, when configured,
// is always passed last so its values win wherever the engine merges
// per-file settings. Every configured file must exist - the executor
// refuses to run with a partial file list.
//
// # Security
//
//   - Validates compose file existence before any mutating command
//   - Sanitizes environment variable keys before injection
//   - Does not log sensitive environment values (tokens, secrets)
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down, Stop, ForceCleanup) are serialized.
type Executor interface {
	// Up starts services defined in the compose configuration.
	//
	// Executes `podman-compose up -d` with the configured file layering
	// and profiles. Injects environment variables from the provided map.
	// Fails before issuing any command if a configured file is missing.
	Up(ctx context.Context, opts UpOptions) (*ComposeResult, error)

	// Down stops and removes containers defined in compose configuration.
	//
	// Executes `podman-compose down` with optional flags for orphan
	// removal and volume deletion.
	Down(ctx context.Context, opts DownOptions) (*ComposeResult, error)

	// Stop stops all signal containers with timeout-based escalation.
	//
	// Graceful stop first (SIGTERM with timeout), then force stop
	// (SIGKILL) for anything still running unless disabled.
	Stop(ctx context.Context, opts StopOptions) (*StopResult, error)

	// Logs streams container logs to the provided writer.
	//
	// With Follow set, blocks until the context is cancelled.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// Status returns the current state of compose services.
	//
	// Queries the container engine directly (podman ps) and parses the
	// JSON output into structured per-service status.
	Status(ctx context.Context) (*ComposeStatus, error)

	// RenderConfig returns the merged compose configuration.
	//
	// Executes `podman-compose config` with the full file layering,
	// profiles, and the given environment, returning the resolved YAML.
	// This is the engine's own view of what `Up` would deploy, including
	// substituted variables and overlay-applied values.
	RenderConfig(ctx context.Context, env map[string]string) (string, error)

	// ForceCleanup removes all signal containers regardless of compose state.
	//
	// Nuclear option when compose down fails. Collects errors from each
	// step instead of aborting; returns ErrCleanupPartial when some
	// steps failed.
	ForceCleanup(ctx context.Context) (*CleanupResult, error)

	// GetComposeFiles returns the ordered list of compose files in use.
	//
	// Base manifest first, overlay last. Does not check existence; use
	// ValidateFiles for that.
	GetComposeFiles() []string

	// ValidateFiles verifies that every configured compose file exists.
	//
	// Returns an error wrapping ErrComposeFileMissing naming the first
	// missing file.
	ValidateFiles() error

	// ValidateBinary verifies that the compose binary is on PATH.
	//
	// Returns an error wrapping ErrComposeNotFound if it is not.
	ValidateBinary() error
}

// =============================================================================
// Supporting Types
// =============================================================================

// ComposeConfig provides configuration for compose operations.
type ComposeConfig struct {
	// StackDir is the directory containing compose files.
	// All compose file paths are relative to this directory.
	StackDir string

	// ProjectName is the compose project name.
	// Default: "aleutiansignal"
	ProjectName string

	// BaseFile is the primary compose file name.
	// Default: "podman-compose.yaml"
	BaseFile string

	// OverlayFile is an optional mode overlay applied after the base file.
	// Unlike an override file, a configured overlay is REQUIRED to exist:
	// operations fail fast rather than silently running without it.
	// Empty means no overlay (the base file runs as-is).
	OverlayFile string

	// Profiles are compose profiles to activate (e.g. "research").
	// Services guarded by a profile only start when it is listed here.
	Profiles []string

	// ContainerNamePrefix is the prefix for container names.
	// Used for filtering in Stop and ForceCleanup.
	// Default: "signal-"
	ContainerNamePrefix string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 5 minutes
	DefaultTimeout time.Duration

	// Logger receives command execution logs.
	// Default: logging.Default()
	Logger *logging.Logger
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// ForceBuild rebuilds images even if they exist.
	// Maps to: --build flag
	ForceBuild bool

	// Services limits which services to start.
	// Empty means all services.
	Services []string

	// Env contains environment variables to inject.
	// These are visible to compose variable substitution, so budget
	// values like SIGNAL_FORECASTER_CPU_LIMIT land here.
	Env map[string]string

	// RemoveOrphans removes containers for services not defined.
	// Default: false
	RemoveOrphans bool

	// Timeout overrides the default operation timeout.
	// Zero means use DefaultTimeout from config.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveOrphans removes containers for services not in compose file.
	// Maps to: --remove-orphans flag
	RemoveOrphans bool

	// RemoveVolumes removes named volumes declared in compose file.
	// Maps to: -v flag
	// WARNING: This is destructive and cannot be undone.
	RemoveVolumes bool

	// Timeout for graceful container shutdown.
	// Default: 10 seconds per container
	Timeout time.Duration
}

// StopOptions configures the Stop operation.
type StopOptions struct {
	// GracefulTimeout is the time to wait for graceful shutdown (SIGTERM).
	// After this timeout, containers are force-stopped with SIGKILL.
	// Default: 10 seconds
	GracefulTimeout time.Duration

	// Services limits which services to stop.
	// Empty means all signal services (filter: name=signal-*).
	Services []string

	// SkipForceStop disables the automatic force-stop after graceful timeout.
	// Default: false (force-stop enabled)
	SkipForceStop bool
}

// StopResult contains the result of a Stop operation.
type StopResult struct {
	// TotalStopped is the total number of containers stopped.
	TotalStopped int

	// GracefulStopped is containers that stopped gracefully (SIGTERM).
	GracefulStopped int

	// ForceStopped is containers that required force stop (SIGKILL).
	ForceStopped int

	// ContainerNames lists all containers that were stopped.
	ContainerNames []string

	// Errors contains any non-fatal errors encountered.
	Errors []string
}

// LogsOptions configures the Logs operation.
type LogsOptions struct {
	// Follow streams logs continuously.
	// Maps to: -f flag
	Follow bool

	// Services limits which services to show logs for.
	// Empty means all services.
	Services []string

	// Tail limits output to last N lines per container.
	// Zero means all logs.
	Tail int

	// Timestamps prepends each line with timestamp.
	// Maps to: --timestamps flag
	Timestamps bool
}

// ComposeResult contains the result of a compose operation.
type ComposeResult struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the compose command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	Command string
}

// ComposeStatus contains the current state of compose services.
type ComposeStatus struct {
	// Services contains status for each service.
	Services []ServiceStatus

	// Running is the count of running services.
	Running int

	// Stopped is the count of stopped services.
	Stopped int

	// Unhealthy is the count of unhealthy services.
	Unhealthy int
}

// ServiceStatus contains the status of a single service.
type ServiceStatus struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the actual container name.
	ContainerName string

	// State is the container state (running, exited, etc.).
	State string

	// Healthy indicates health check status.
	// nil means no health check defined.
	Healthy *bool

	// Ports contains published port mappings.
	Ports []PortMapping

	// Image is the container image.
	Image string
}

// PortMapping represents a port binding.
type PortMapping struct {
	// HostIP is the host interface (usually 0.0.0.0).
	HostIP string

	// HostPort is the port on the host.
	HostPort int

	// ContainerPort is the port in the container.
	ContainerPort int

	// Protocol is tcp or udp.
	Protocol string
}

// CleanupResult contains details of a ForceCleanup operation.
type CleanupResult struct {
	// ContainersStopped is the number of containers force-stopped.
	ContainersStopped int

	// ContainersRemoved is the number of containers removed.
	ContainersRemoved int

	// PodsRemoved is the number of pods removed.
	PodsRemoved int

	// ContainerNames lists the names of removed containers.
	ContainerNames []string

	// PodNames lists the names of removed pods.
	PodNames []string

	// Errors contains any non-fatal errors encountered.
	Errors []string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor using podman-compose.
type DefaultExecutor struct {
	config     ComposeConfig
	proc       process.Manager
	logger     *logging.Logger
	osStatFunc func(string) (os.FileInfo, error)
	mu         sync.Mutex
}

// NewDefaultExecutor creates a new Executor with the given configuration.
//
// # Description
//
// Creates an executor configured for podman-compose operations.
// Validates the configuration and sets sensible defaults.
//
// # Inputs
//
//   - cfg: Compose configuration (StackDir required)
//   - proc: Manager for command execution
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: If configuration is invalid
//
// # Example
//
//	executor, err := NewDefaultExecutor(ComposeConfig{
//	    StackDir:    "/home/user/.aleutian/signal",
//	    OverlayFile: "overlays/low-power.yaml",
//	}, processManager)
//
// # Defaults Applied
//
//   - ProjectName: "aleutiansignal"
//   - BaseFile: "podman-compose.yaml"
//   - ContainerNamePrefix: "signal-"
//   - DefaultTimeout: 5 minutes
//   - Logger: logging.Default()
//
// # Limitations
//
//   - Does not verify podman-compose is installed (use ValidateBinary)
//   - Does not verify StackDir exists (checked by ValidateFiles)
func NewDefaultExecutor(cfg ComposeConfig, proc process.Manager) (*DefaultExecutor, error) {
	if err := validateComposeConfig(&cfg); err != nil {
		return nil, err
	}

	applyComposeConfigDefaults(&cfg)

	return &DefaultExecutor{
		config:     cfg,
		proc:       proc,
		logger:     cfg.Logger,
		osStatFunc: os.Stat,
	}, nil
}

// validateComposeConfig validates the ComposeConfig fields.
func validateComposeConfig(cfg *ComposeConfig) error {
	if cfg.StackDir == "" {
		return fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}
	return nil
}

// applyComposeConfigDefaults applies default values to empty fields.
//
// Only modifies fields that are empty/zero-valued. Called after
// validation.
func applyComposeConfigDefaults(cfg *ComposeConfig) {
	if cfg.ProjectName == "" {
		cfg.ProjectName = "aleutiansignal"
	}
	if cfg.BaseFile == "" {
		cfg.BaseFile = "podman-compose.yaml"
	}
	if cfg.ContainerNamePrefix == "" {
		cfg.ContainerNamePrefix = "signal-"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
}

// =============================================================================
// Interface Implementation
// =============================================================================

// Up starts services defined in the compose configuration.
//
// # Description
//
// Validates env vars and compose files, then executes
// `podman-compose up -d` with the configured layering: base manifest
// first, overlay last. Acquires mutex to serialize with other mutating
// operations.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout
//   - opts: Configuration for the up operation
//
// # Outputs
//
//   - *ComposeResult: Contains stdout, stderr, exit code, duration
//   - error: If a file is missing, env invalid, or the command fails
//
// # Example
//
//	result, err := executor.Up(ctx, UpOptions{
//	    Env: map[string]string{"SIGNAL_API_CPU_LIMIT": "0.75"},
//	})
//	if err != nil {
//	    log.Printf("up failed: %v\nstderr: %s", err, result.Stderr)
//	}
//
// # Limitations
//
//   - Does not verify service health after startup (use the validator)
//   - Blocks until containers are started (not until healthy)
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
	// Validate env vars before proceeding to prevent config injection
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	// A missing overlay must abort before any compose command runs.
	if err := e.ValidateFiles(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "up", "-d")

	if opts.ForceBuild {
		args = append(args, "--build")
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, opts.Env, timeout)
}

// Down stops and removes containers defined in compose configuration.
//
// # Description
//
// Executes `podman-compose down` with optional flags for orphan
// removal and volume deletion. Acquires mutex to serialize with
// other mutating operations.
//
// # Limitations
//
//   - Volume removal is irreversible
//   - May fail if containers are stuck (use Stop() first)
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*ComposeResult, error) {
	if err := e.ValidateFiles(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "down")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, nil, timeout)
}

// Stop stops all signal containers with timeout-based escalation.
//
// # Description
//
// Stops containers using a multi-phase approach:
//  1. Graceful stop: Sends SIGTERM, waits GracefulTimeout (default 10s)
//  2. Force stop: Sends SIGKILL to any remaining containers
//
// This ensures containers are stopped even if they ignore SIGTERM.
// Operates on the engine directly (podman stop) so it works even when
// compose files have been moved or deleted.
//
// # Outputs
//
//   - *StopResult: Contains counts of graceful/forced stops and errors
//   - error: If stop cannot complete (partial results still returned)
func (e *DefaultExecutor) Stop(ctx context.Context, opts StopOptions) (*StopResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &StopResult{
		ContainerNames: []string{},
		Errors:         []string{},
	}

	gracefulTimeout := e.resolveGracefulTimeout(opts.GracefulTimeout)

	// Get list of running containers before stopping
	runningBefore, err := e.listRunningContainers(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list containers: %v", err))
	}

	// Phase 1: Graceful stop with timeout
	if gracefulErr := e.executeStop(ctx, int(gracefulTimeout.Seconds())); gracefulErr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("graceful stop: %v", gracefulErr))
	}

	runningAfterGraceful, _ := e.listRunningContainers(ctx)
	result.GracefulStopped = len(runningBefore) - len(runningAfterGraceful)

	// Phase 2: Force stop if containers remain and not skipped
	if !opts.SkipForceStop && len(runningAfterGraceful) > 0 {
		if forceErr := e.executeStop(ctx, 0); forceErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("force stop: %v", forceErr))
		}

		runningAfterForce, _ := e.listRunningContainers(ctx)
		result.ForceStopped = len(runningAfterGraceful) - len(runningAfterForce)
	}

	result.TotalStopped = result.GracefulStopped + result.ForceStopped
	result.ContainerNames = append(result.ContainerNames, runningBefore...)

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("stop completed with errors: %v", result.Errors)
	}
	return result, nil
}

// Logs streams container logs to the provided writer.
//
// # Description
//
// Executes `podman-compose logs` with optional follow mode. Streams
// to the provided io.Writer until the command exits or the context is
// cancelled. Does not acquire mutex (read-only operation).
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.buildComposeArgs()
	args = append(args, "logs")

	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	cmdStr := fmt.Sprintf("podman-compose %s", strings.Join(args, " "))
	e.logger.Debug("executing compose command", "command", cmdStr, "dir", e.config.StackDir)

	return e.proc.RunStreaming(ctx, e.config.StackDir, w, "podman-compose", args...)
}

// Status returns the current state of compose services.
//
// # Description
//
// Executes `podman ps` with JSON output and parses the result.
// Returns status for all containers (running, stopped, exited).
// Does not acquire mutex (read-only operation).
//
// # Limitations
//
//   - Health status may lag actual container state
//   - Parsing depends on podman ps --format json output structure
func (e *DefaultExecutor) Status(ctx context.Context) (*ComposeStatus, error) {
	args := []string{
		"ps",
		"-a",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--format", "json",
	}

	output, err := e.runPodman(ctx, args, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get container status: %w", err)
	}

	return e.parseContainerStatus(output.Stdout)
}

// RenderConfig returns the merged compose configuration.
//
// # Description
//
// Executes `podman-compose config` with the full file layering and the
// given environment. The output is the engine's own merged view: the
// base manifest with variable substitution applied and overlay values
// layered on top. This is what budget verification inspects, so the
// check sees exactly what `Up` would deploy.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout
//   - env: Environment for variable substitution (may be nil)
//
// # Outputs
//
//   - string: Resolved YAML configuration
//   - error: If a file is missing or the command fails
func (e *DefaultExecutor) RenderConfig(ctx context.Context, env map[string]string) (string, error) {
	if err := e.validateEnvVars(env); err != nil {
		return "", err
	}
	if err := e.ValidateFiles(); err != nil {
		return "", err
	}

	args := e.buildComposeArgs()
	args = append(args, "config")

	result, err := e.runCompose(ctx, args, env, 60*time.Second)
	if err != nil {
		return "", fmt.Errorf("failed to render compose config: %w", err)
	}

	return result.Stdout, nil
}

// ForceCleanup removes all signal containers regardless of compose state.
//
// # Description
//
// Nuclear option when compose down fails. Executes four steps:
//  1. Force stop all matching containers (podman stop -t 0)
//  2. Force remove by name filter (name=signal-*)
//  3. Force remove by label filter (io.podman.compose.project=...)
//  4. Remove matching pods
//
// Each step continues even if previous steps fail.
// Acquires mutex to serialize with other mutating operations.
//
// # Outputs
//
//   - *CleanupResult: Contains counts and error list
//   - error: ErrCleanupPartial if some steps failed, nil otherwise
func (e *DefaultExecutor) ForceCleanup(ctx context.Context) (*CleanupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &CleanupResult{
		ContainerNames: []string{},
		PodNames:       []string{},
		Errors:         []string{},
	}

	// Step 1: Force stop all containers
	if err := e.executeStop(ctx, 0); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("force stop: %v", err))
	}

	// Step 2: Remove by name filter
	e.removeContainersByFilter(ctx, result,
		fmt.Sprintf("name=%s", e.config.ContainerNamePrefix), "remove by name")

	// Step 3: Remove by label filter
	e.removeContainersByFilter(ctx, result,
		fmt.Sprintf("label=io.podman.compose.project=%s", e.config.ProjectName), "remove by label")

	// Step 4: Remove pods
	e.removePods(ctx, result)

	if len(result.Errors) > 0 {
		return result, ErrCleanupPartial
	}
	return result, nil
}

// GetComposeFiles returns the ordered list of compose files in use.
//
// # Description
//
// Base manifest first, overlay last. Every returned path is part of the
// invocation regardless of whether it exists on disk - existence is
// checked separately by ValidateFiles so that a missing overlay is a
// hard error, never a silent skip.
//
// # Example
//
//	files := executor.GetComposeFiles()
//	// ["/home/user/.aleutian/signal/podman-compose.yaml",
//	//  "/home/user/.aleutian/signal/overlays/low-power.yaml"]
func (e *DefaultExecutor) GetComposeFiles() []string {
	files := []string{
		filepath.Join(e.config.StackDir, e.config.BaseFile),
	}

	if e.config.OverlayFile != "" {
		files = append(files, filepath.Join(e.config.StackDir, e.config.OverlayFile))
	}

	return files
}

// ValidateFiles verifies that every configured compose file exists.
//
// # Description
//
// Stats each file from GetComposeFiles, returning an error wrapping
// ErrComposeFileMissing for the first missing file. Callers run this
// before mutating operations so no partial invocation reaches the
// engine.
func (e *DefaultExecutor) ValidateFiles() error {
	for _, file := range e.GetComposeFiles() {
		if _, err := e.osStatFunc(file); err != nil {
			return fmt.Errorf("%w: %s", ErrComposeFileMissing, file)
		}
	}
	return nil
}

// ValidateBinary verifies podman-compose is available in PATH.
//
// Returns an error wrapping ErrComposeNotFound when it is not.
func (e *DefaultExecutor) ValidateBinary() error {
	if _, err := e.proc.LookPath("podman-compose"); err != nil {
		return fmt.Errorf("%w: install podman-compose or add it to PATH", ErrComposeNotFound)
	}
	return nil
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// buildComposeArgs builds the shared leading arguments for compose commands.
//
// Constructs -f arguments in layering order (base first, overlay last)
// followed by --profile flags for each active profile.
func (e *DefaultExecutor) buildComposeArgs() []string {
	args := []string{}

	for _, file := range e.GetComposeFiles() {
		args = append(args, "-f", file)
	}

	for _, p := range e.config.Profiles {
		args = append(args, "--profile", p)
	}

	return args
}

// runCompose executes a podman-compose command.
//
// # Description
//
// Runs podman-compose with the given arguments, environment, and timeout.
// Logs the command being executed (with sensitive values redacted).
// Creates a child context with the specified timeout.
//
// # Outputs
//
//   - *ComposeResult: Contains stdout, stderr, exit code, duration, command
//   - error: If command fails or times out
func (e *DefaultExecutor) runCompose(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*ComposeResult, error) {
	start := time.Now()

	cmdEnv := e.buildCommandEnvironment(env)
	cmdStr := fmt.Sprintf("podman-compose %s", strings.Join(args, " "))
	e.logCommand(cmdStr, env)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.StackDir, cmdEnv, "podman-compose", args...)

	result := &ComposeResult{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose command exited with code %d: %s", exitCode, stderr)
	}

	return result, nil
}

// runPodman executes a direct podman command.
//
// Used for operations like stop, rm, ps where we need direct container
// manipulation rather than going through compose.
func (e *DefaultExecutor) runPodman(ctx context.Context, args []string, timeout time.Duration) (*ComposeResult, error) {
	start := time.Now()
	cmdStr := fmt.Sprintf("podman %s", strings.Join(args, " "))
	e.logger.Debug("executing engine command", "command", cmdStr)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, "", nil, "podman", args...)

	result := &ComposeResult{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("podman command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("podman command exited with code %d: %s", exitCode, stderr)
	}

	return result, nil
}

// listRunningContainers returns IDs of running containers matching the prefix.
func (e *DefaultExecutor) listRunningContainers(ctx context.Context) ([]string, error) {
	args := []string{
		"ps", "-q",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--filter", "status=running",
	}

	output, err := e.runPodman(ctx, args, 30*time.Second)
	if err != nil {
		return nil, err
	}

	return e.parseLines(output.Stdout), nil
}

// executeStop runs podman stop with the given timeout in seconds.
//
// A timeout of 0 means immediate SIGKILL. Containers that are already
// stopped are not an error.
func (e *DefaultExecutor) executeStop(ctx context.Context, timeoutSeconds int) error {
	args := []string{
		"stop",
		"-t", fmt.Sprintf("%d", timeoutSeconds),
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
	}

	_, err := e.runPodman(ctx, args, e.config.DefaultTimeout)
	return err
}

// removeContainersByFilter removes containers matching the given filter,
// recording results and errors on the cleanup result.
func (e *DefaultExecutor) removeContainersByFilter(ctx context.Context, result *CleanupResult, filter, step string) {
	args := []string{
		"rm", "-f",
		"--filter", filter,
	}

	if output, err := e.runPodman(ctx, args, 30*time.Second); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step, err))
	} else {
		removed := e.parseLines(output.Stdout)
		result.ContainerNames = append(result.ContainerNames, removed...)
		result.ContainersRemoved += len(removed)
	}
}

// removePods removes pods matching the name filter.
func (e *DefaultExecutor) removePods(ctx context.Context, result *CleanupResult) {
	listArgs := []string{
		"pod", "ls", "-q",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
	}

	output, err := e.runPodman(ctx, listArgs, 30*time.Second)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list pods: %v", err))
		return
	}

	pods := e.parseLines(output.Stdout)
	for _, pod := range pods {
		if pod == "" {
			continue
		}
		rmArgs := []string{"pod", "rm", "-f", pod}
		if _, err := e.runPodman(ctx, rmArgs, 30*time.Second); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove pod %s: %v", pod, err))
		} else {
			result.PodNames = append(result.PodNames, pod)
			result.PodsRemoved++
		}
	}
}

// parseContainerStatus parses podman ps JSON output to ComposeStatus.
//
// # Description
//
// Converts JSON container list to structured status. Extracts service
// names from container names, parses health status, and counts
// running/stopped/unhealthy containers.
//
// # Limitations
//
//   - Depends on specific podman JSON output format
//   - Health status extracted from Status string (may be fragile)
func (e *DefaultExecutor) parseContainerStatus(jsonOutput string) (*ComposeStatus, error) {
	status := &ComposeStatus{
		Services: []ServiceStatus{},
	}

	if strings.TrimSpace(jsonOutput) == "" {
		return status, nil
	}

	var containers []struct {
		Names  []string `json:"Names"`
		State  string   `json:"State"`
		Status string   `json:"Status"`
		Image  string   `json:"Image"`
		Ports  []struct {
			HostIP        string `json:"host_ip"`
			HostPort      int    `json:"host_port"`
			ContainerPort int    `json:"container_port"`
			Protocol      string `json:"protocol"`
		} `json:"Ports"`
	}

	if err := json.Unmarshal([]byte(jsonOutput), &containers); err != nil {
		return nil, fmt.Errorf("failed to parse container JSON: %w", err)
	}

	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}

		svc := ServiceStatus{
			Name:          e.extractServiceName(name),
			ContainerName: name,
			State:         c.State,
			Image:         c.Image,
			Ports:         []PortMapping{},
		}
		svc.Healthy = e.parseHealthStatus(c.Status)

		for _, p := range c.Ports {
			svc.Ports = append(svc.Ports, PortMapping{
				HostIP:        p.HostIP,
				HostPort:      p.HostPort,
				ContainerPort: p.ContainerPort,
				Protocol:      p.Protocol,
			})
		}

		status.Services = append(status.Services, svc)

		switch c.State {
		case "running":
			status.Running++
		case "exited", "stopped":
			status.Stopped++
		}
		if svc.Healthy != nil && !*svc.Healthy {
			status.Unhealthy++
		}
	}

	return status, nil
}

// parseHealthStatus extracts health status from status string.
//
// Looks for "healthy" or "unhealthy" in strings like "Up 2 hours (healthy)".
// Returns nil when no healthcheck is defined.
func (e *DefaultExecutor) parseHealthStatus(statusStr string) *bool {
	if strings.Contains(statusStr, "unhealthy") {
		healthy := false
		return &healthy
	}
	if strings.Contains(statusStr, "healthy") {
		healthy := true
		return &healthy
	}
	return nil
}

// extractServiceName extracts compose service name from container name.
//
// Container names follow pattern: prefix-servicename-N. This removes the
// prefix and the trailing numeric replica suffix.
//
//	e.extractServiceName("signal-forecaster-1") // "forecaster"
//	e.extractServiceName("signal-api-1")        // "api"
func (e *DefaultExecutor) extractServiceName(containerName string) string {
	name := strings.TrimPrefix(containerName, e.config.ContainerNamePrefix)

	parts := strings.Split(name, "-")
	if len(parts) > 1 {
		lastPart := parts[len(parts)-1]
		if _, err := fmt.Sscanf(lastPart, "%d", new(int)); err == nil {
			parts = parts[:len(parts)-1]
		}
	}

	return strings.Join(parts, "-")
}

// buildCommandEnvironment builds the environment for command execution.
//
// Combines current process environment with additional variables.
// User-provided variables override existing environment variables
// with the same key to ensure deterministic behavior.
func (e *DefaultExecutor) buildCommandEnvironment(env map[string]string) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}

	for k, v := range env {
		envMap[k] = v
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// resolveTimeout returns the timeout to use, applying default if zero.
func (e *DefaultExecutor) resolveTimeout(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return e.config.DefaultTimeout
	}
	return timeout
}

// resolveGracefulTimeout returns the graceful stop timeout, default 10s.
func (e *DefaultExecutor) resolveGracefulTimeout(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return 10 * time.Second
	}
	return timeout
}

// parseLines splits output into non-empty trimmed lines.
func (e *DefaultExecutor) parseLines(output string) []string {
	lines := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// logCommand logs the command being executed, redacting sensitive values.
func (e *DefaultExecutor) logCommand(cmd string, env map[string]string) {
	attrs := []any{"command", cmd, "dir", e.config.StackDir}
	for k, v := range env {
		if e.isSensitiveEnvVar(k) {
			attrs = append(attrs, "env_"+k, "[REDACTED]")
		} else {
			attrs = append(attrs, "env_"+k, v)
		}
	}
	e.logger.Debug("executing compose command", attrs...)
}

// isSensitiveEnvVar checks if an environment variable name is sensitive.
//
// Identifies variables that should not be logged in plaintext.
func (e *DefaultExecutor) isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "CREDENTIAL")
}

// validateEnvVars validates all environment variable keys in the map.
//
// Ensures all keys match the allowed pattern (alphanumeric and
// underscore, starting with letter or underscore). This prevents config
// injection attacks through malformed env var names.
func (e *DefaultExecutor) validateEnvVars(env map[string]string) error {
	for key := range env {
		if !envVarKeyRegex.MatchString(key) {
			return fmt.Errorf("%w: key %q contains invalid characters (must match [a-zA-Z_][a-zA-Z0-9_]*)", ErrInvalidEnvVar, key)
		}
	}
	return nil
}

// Compile-time interface satisfaction check
var _ Executor = (*DefaultExecutor)(nil)

// =============================================================================
// Mock Implementation
// =============================================================================

// MockExecutor is a test double for Executor.
//
// # Description
//
// Provides a configurable mock implementation for testing.
// Each method can be configured with a custom function.
// Tracks mutating calls for verification.
//
// # Example
//
//	mock := &MockExecutor{
//	    UpFunc: func(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
//	        return &ComposeResult{Success: true}, nil
//	    },
//	}
//	result, _ := mock.Up(ctx, UpOptions{})
//	if len(mock.UpCalls) != 1 {
//	    t.Fatal("expected one Up call")
//	}
type MockExecutor struct {
	UpFunc              func(context.Context, UpOptions) (*ComposeResult, error)
	DownFunc            func(context.Context, DownOptions) (*ComposeResult, error)
	StopFunc            func(context.Context, StopOptions) (*StopResult, error)
	LogsFunc            func(context.Context, LogsOptions, io.Writer) error
	StatusFunc          func(context.Context) (*ComposeStatus, error)
	RenderConfigFunc    func(context.Context, map[string]string) (string, error)
	ForceCleanupFunc    func(context.Context) (*CleanupResult, error)
	GetComposeFilesFunc func() []string
	ValidateFilesFunc   func() error
	ValidateBinaryFunc  func() error

	UpCalls      []UpOptions
	DownCalls    []DownOptions
	StopCalls    []StopOptions
	RenderCalls  []map[string]string
	CleanupCalls int
	mu           sync.Mutex
}

// Up implements Executor.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.UpCalls = append(m.UpCalls, opts)
	m.mu.Unlock()

	if m.UpFunc != nil {
		return m.UpFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Down implements Executor.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.DownCalls = append(m.DownCalls, opts)
	m.mu.Unlock()

	if m.DownFunc != nil {
		return m.DownFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Stop implements Executor.
func (m *MockExecutor) Stop(ctx context.Context, opts StopOptions) (*StopResult, error) {
	m.mu.Lock()
	m.StopCalls = append(m.StopCalls, opts)
	m.mu.Unlock()

	if m.StopFunc != nil {
		return m.StopFunc(ctx, opts)
	}
	return &StopResult{TotalStopped: 0}, nil
}

// Logs implements Executor.
func (m *MockExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, opts, w)
	}
	return nil
}

// Status implements Executor.
func (m *MockExecutor) Status(ctx context.Context) (*ComposeStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &ComposeStatus{Services: []ServiceStatus{}}, nil
}

// RenderConfig implements Executor.
func (m *MockExecutor) RenderConfig(ctx context.Context, env map[string]string) (string, error) {
	m.mu.Lock()
	m.RenderCalls = append(m.RenderCalls, env)
	m.mu.Unlock()

	if m.RenderConfigFunc != nil {
		return m.RenderConfigFunc(ctx, env)
	}
	return "", nil
}

// ForceCleanup implements Executor.
func (m *MockExecutor) ForceCleanup(ctx context.Context) (*CleanupResult, error) {
	m.mu.Lock()
	m.CleanupCalls++
	m.mu.Unlock()

	if m.ForceCleanupFunc != nil {
		return m.ForceCleanupFunc(ctx)
	}
	return &CleanupResult{}, nil
}

// GetComposeFiles implements Executor.
func (m *MockExecutor) GetComposeFiles() []string {
	if m.GetComposeFilesFunc != nil {
		return m.GetComposeFilesFunc()
	}
	return []string{}
}

// ValidateFiles implements Executor.
func (m *MockExecutor) ValidateFiles() error {
	if m.ValidateFilesFunc != nil {
		return m.ValidateFilesFunc()
	}
	return nil
}

// ValidateBinary implements Executor.
func (m *MockExecutor) ValidateBinary() error {
	if m.ValidateBinaryFunc != nil {
		return m.ValidateBinaryFunc()
	}
	return nil
}

// Compile-time interface satisfaction check
var _ Executor = (*MockExecutor)(nil)
