// Package jobs runs long commands inside containers without holding a
// connection open. Each job leaves sentinel files in the container's /tmp
// (output, exit code, pid) keyed by a short token, so state survives the
// tool process that started it and can be polled from any later process.
package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

type runner interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result
}

// Manager starts, polls, and cancels background jobs.
type Manager struct {
	runner runner
	logger zerolog.Logger
}

// NewManager creates a job manager over the given engine.
func NewManager(runner runner, logger zerolog.Logger) *Manager {
	return &Manager{runner: runner, logger: logger}
}

const (
	startTimeout = 30 * time.Second
	pollTimeout  = 30 * time.Second
	outputTail   = 100
)

// StartResult identifies a freshly launched background job.
type StartResult struct {
	Token string `json:"token"`
	PID   int    `json:"pid"`
}

// PollResult is a point-in-time snapshot of a job.
type PollResult struct {
	Token    string `json:"token"`
	Running  bool   `json:"running"`
	Found    bool   `json:"found"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output"`
}

func sentinelBase(token string) string {
	return "/tmp/amp-job-" + token
}

// Start launches command in the container's workdir under the given identity
// and returns immediately with a polling token. The command text travels as
// a positional parameter, never interpolated into the launcher script.
func (m *Manager) Start(ctx context.Context, container, workdir, user, command string) (StartResult, error) {
	token := uuid.NewString()[:8]
	base := sentinelBase(token)

	launcher := `cd "$2" 2>/dev/null || cd /
nohup sh -c 'sh -c "$1"; echo $? > "$2.exit"' sh "$3" "$1" > "$1.out" 2>&1 &
echo $! > "$1.pid"
cat "$1.pid"`

	args := []string{"exec"}
	if user != "" {
		args = append(args, "--user", user)
	}
	args = append(args, container, "/bin/sh", "-c", launcher, "sh", base, workdir, command)
	res := m.runner.Run(ctx, startTimeout, args...)
	if !res.Ok() {
		return StartResult{}, fmt.Errorf("start background job: %s", strings.TrimSpace(res.Stderr))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return StartResult{}, fmt.Errorf("background job gave no pid: %q", res.Stdout)
	}

	m.logger.Info().
		Str("container", container).
		Str("token", token).
		Int("pid", pid).
		Msg("Background job started")
	return StartResult{Token: token, PID: pid}, nil
}

// Poll reports a job's state. The exit sentinel is checked before the
// process, so a finished job whose pid has been recycled still reads as
// finished. A container that no longer exists yields Found=false without
// error, since destroying a container is the normal way jobs end.
func (m *Manager) Poll(ctx context.Context, container, token string) (PollResult, error) {
	base := sentinelBase(token)
	out := PollResult{Token: token}

	script := `if [ ! -f "$1.pid" ]; then echo missing; exit 0; fi
if [ -f "$1.exit" ]; then
  echo "exited $(cat "$1.exit")"
elif kill -0 "$(cat "$1.pid")" 2>/dev/null; then
  echo running
else
  echo "exited -1"
fi
tail -n "$2" "$1.out" 2>/dev/null`
	res := m.runner.Run(ctx, pollTimeout, "exec", container, "/bin/sh", "-c", script,
		"sh", base, strconv.Itoa(outputTail))
	if !res.Ok() {
		if containerGone(res.Stderr) {
			return out, nil
		}
		return out, fmt.Errorf("poll job %s: %s", token, strings.TrimSpace(res.Stderr))
	}

	first, rest, _ := strings.Cut(res.Stdout, "\n")
	switch {
	case first == "missing":
		return out, nil
	case first == "running":
		out.Found = true
		out.Running = true
	case strings.HasPrefix(first, "exited "):
		out.Found = true
		if code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(first, "exited "))); err == nil {
			out.ExitCode = &code
		}
	default:
		return out, fmt.Errorf("poll job %s: unexpected state %q", token, first)
	}
	out.Output = rest
	return out, nil
}

// Cancel stops a running job. Idempotent: an already-finished or unknown job
// cancels cleanly, as does one whose container is gone.
func (m *Manager) Cancel(ctx context.Context, container, token string) error {
	base := sentinelBase(token)
	script := `if [ -f "$1.pid" ] && [ ! -f "$1.exit" ]; then
  kill "$(cat "$1.pid")" 2>/dev/null || true
  echo 143 > "$1.exit"
fi`
	res := m.runner.Run(ctx, pollTimeout, "exec", container, "/bin/sh", "-c", script, "sh", base)
	if !res.Ok() && !containerGone(res.Stderr) {
		return fmt.Errorf("cancel job %s: %s", token, strings.TrimSpace(res.Stderr))
	}
	m.logger.Info().Str("container", container).Str("token", token).Msg("Background job cancelled")
	return nil
}

func containerGone(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "is not running") ||
		strings.Contains(s, "no container with name")
}
