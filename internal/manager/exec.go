package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microsoft/amplifier-bundle-containers/internal/jobs"
	"github.com/microsoft/amplifier-bundle-containers/internal/metadata"
)

// ExecRequest runs one command in an existing container. The identity
// defaults to the container's stored exec identity; AsRoot escalates a
// single command back to the administrative identity.
type ExecRequest struct {
	Name           string `json:"container" validate:"required"`
	Command        string `json:"command" validate:"required"`
	Workdir        string `json:"workdir,omitempty"`
	AsRoot         bool   `json:"as_root,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

// ExecResult mirrors the engine outcome. A non-zero exit code is data, not
// an operation failure.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// resolveTarget loads the record for a named container and verifies the
// container still exists. Engine state wins: a record without a live
// container is pruned and reported as not found.
func (m *Manager) resolveTarget(ctx context.Context, name string) (*metadata.Record, error) {
	rec, err := m.store.Load(name)
	if err != nil {
		return nil, opErrorf(CodeEngineError, "", "read container record: %v", err)
	}
	if !m.containerExists(ctx, name) {
		if rec != nil {
			if err := m.store.Remove(name); err != nil {
				m.logger.Warn().Err(err).Str("container", name).Msg("Failed to prune stale record")
			}
		}
		return nil, notFound(name)
	}
	if rec == nil {
		// Managed container created by an earlier process whose record is
		// gone; operate with engine defaults.
		rec = &metadata.Record{Name: name, Workdir: DefaultWorkdir}
	}
	return rec, nil
}

// Exec runs a command and waits for it.
func (m *Manager) Exec(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, opErrorf(CodeInvalidConfig, "provide container and command", "invalid request: %v", err)
	}
	rec, err := m.resolveTarget(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	workdir := req.Workdir
	if workdir == "" {
		workdir = rec.Workdir
	}
	timeout := m.commandTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	args := []string{"exec"}
	if user := execIdentity(rec, req.AsRoot); user != "" {
		args = append(args, "--user", user)
	}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, req.Name, "/bin/sh", "-c", req.Command)

	res := m.engine.Run(ctx, timeout, args...)
	return &ExecResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimedOut: res.TimedOut,
	}, nil
}

func execIdentity(rec *metadata.Record, asRoot bool) string {
	if asRoot {
		return ""
	}
	return rec.ExecUser
}

// InteractiveHint returns the shell command a human runs to get a terminal
// in the container. Interactive sessions need a real TTY, which the tool
// boundary cannot provide, so the hint is the product.
func (m *Manager) InteractiveHint(ctx context.Context, name string) (string, error) {
	if err := m.ensureReady(ctx); err != nil {
		return "", err
	}
	rec, err := m.resolveTarget(ctx, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s exec -it %s %s %s",
		m.engine.Detect(), execFlags(rec.ExecUser, rec.Workdir), name, m.shellFor(ctx, name)), nil
}

// shellFor picks the interactive shell actually present in the container.
func (m *Manager) shellFor(ctx context.Context, name string) string {
	if res := m.engine.Run(ctx, 10*time.Second, "exec", name, "test", "-x", "/bin/bash"); res.Ok() {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// ExecBackground launches a command that outlives this process and returns a
// polling token.
func (m *Manager) ExecBackground(ctx context.Context, req *ExecRequest) (*jobs.StartResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, opErrorf(CodeInvalidConfig, "provide container and command", "invalid request: %v", err)
	}
	rec, err := m.resolveTarget(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	workdir := req.Workdir
	if workdir == "" {
		workdir = rec.Workdir
	}
	result, err := m.jobs.Start(ctx, req.Name, workdir, execIdentity(rec, req.AsRoot), req.Command)
	if err != nil {
		return nil, opErrorf(CodeEngineError, "", "%v", err)
	}
	return &result, nil
}

// ExecPoll reports a background job's state. A destroyed container is a
// normal terminal condition, not an error.
func (m *Manager) ExecPoll(ctx context.Context, name, token string) (*jobs.PollResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	result, err := m.jobs.Poll(ctx, name, token)
	if err != nil {
		return nil, opErrorf(CodeEngineError, "", "%v", err)
	}
	return &result, nil
}

// ExecCancel stops a background job. Idempotent.
func (m *Manager) ExecCancel(ctx context.Context, name, token string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	if err := m.jobs.Cancel(ctx, name, token); err != nil {
		return opErrorf(CodeEngineError, "", "%v", err)
	}
	return nil
}

// WaitHealthy polls until the container (and its health check, when one is
// defined) reports healthy, or the timeout lapses.
func (m *Manager) WaitHealthy(ctx context.Context, name string, timeout time.Duration) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		res := m.engine.Run(ctx, 15*time.Second, "inspect", "--format",
			"{{.State.Status}} {{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}", name)
		if !res.Ok() {
			return notFound(name)
		}
		state, health, _ := strings.Cut(strings.TrimSpace(res.Stdout), " ")
		if state == "running" && (health == "none" || health == "healthy") {
			return nil
		}
		if state == "exited" || state == "dead" {
			return opErrorf(CodeEngineError, "check the container logs", "container %q is %s", name, state)
		}
		if time.Now().After(deadline) {
			return opErrorf(CodeEngineError, "increase the timeout or check the health check command",
				"container %q not healthy after %s (state %s, health %s)", name, timeout, state, health)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
