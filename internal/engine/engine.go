// Package engine wraps an installed container engine CLI (Docker or Podman).
// Every invocation is a discrete argument vector handed to the binary; no
// command line is ever assembled through a shell. Results are data, never
// errors, so callers can build reports without branching on failure types.
package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Result is the structured outcome of one engine command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Ok reports whether the command completed with exit code zero.
func (r Result) Ok() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Engine detects and wraps a Docker- or Podman-compatible CLI.
type Engine struct {
	logger zerolog.Logger
	prefer string

	mu       sync.Mutex
	binary   string
	detected bool
}

// New creates an Engine. prefer may name a specific binary ("docker" or
// "podman"); empty means auto-detect, preferring the rootless-capable engine.
func New(prefer string, logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger,
		prefer: prefer,
	}
}

// Detect returns the engine binary name ("podman" or "docker") or the empty
// string when neither is installed. The first successful lookup is cached.
func (e *Engine) Detect() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detected {
		return e.binary
	}
	candidates := []string{"podman", "docker"}
	if e.prefer != "" {
		candidates = []string{e.prefer}
	}
	for _, candidate := range candidates {
		if _, err := exec.LookPath(candidate); err == nil {
			e.binary = candidate
			e.detected = true
			e.logger.Debug().Str("engine", candidate).Msg("Container engine detected")
			return candidate
		}
	}
	e.detected = true
	return ""
}

// Run executes an engine subcommand with the given timeout and returns a
// structured result. A command exceeding its timeout is forcibly terminated
// and reported with TimedOut set, not as a crash.
func (e *Engine) Run(ctx context.Context, timeout time.Duration, args ...string) Result {
	binary := e.Detect()
	if binary == "" {
		return Result{
			ExitCode: 1,
			Stderr:   "No container engine (docker/podman) found on PATH",
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn().
			Str("engine", binary).
			Strs("args", args).
			Dur("timeout", timeout).
			Msg("Engine command timed out")
		return Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   "Command timed out after " + timeout.String(),
			TimedOut: true,
		}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Failed before the process ran (e.g. binary vanished).
			return Result{ExitCode: 1, Stderr: err.Error()}
		}
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}

// DaemonResponsive reports whether the engine daemon answers an info query.
func (e *Engine) DaemonResponsive(ctx context.Context) bool {
	return e.Run(ctx, 10*time.Second, "info", "--format", "json").Ok()
}

// UserHasPermission reports whether the invoking user may talk to the engine.
func (e *Engine) UserHasPermission(ctx context.Context) bool {
	return e.Run(ctx, 10*time.Second, "ps", "-q").Ok()
}
