package provision

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

type runner interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result
}

// Provisioner executes provisioning steps inside a running container through
// the engine's exec mechanism. All steps run with the administrative identity;
// files destined for the exec identity are re-owned as they are written.
type Provisioner struct {
	runner runner
	logger zerolog.Logger
}

// NewProvisioner creates a Provisioner over the given engine.
func NewProvisioner(runner runner, logger zerolog.Logger) *Provisioner {
	return &Provisioner{runner: runner, logger: logger}
}

const (
	shortTimeout = 30 * time.Second
	fileTimeout  = 60 * time.Second
	cmdTimeout   = 300 * time.Second
)

// execSh runs a shell script inside the container with the administrative
// identity. Caller data is passed as positional parameters ($1, $2, ...),
// never interpolated into the script text.
func (p *Provisioner) execSh(ctx context.Context, container string, timeout time.Duration, script string, scriptArgs ...string) engine.Result {
	args := []string{"exec", container, "/bin/sh", "-c", script}
	if len(scriptArgs) > 0 {
		args = append(args, "sh")
		args = append(args, scriptArgs...)
	}
	return p.runner.Run(ctx, timeout, args...)
}

// writeFile places content at dest inside the container, creating parent
// directories. The content travels through a host temp file and the engine's
// copy primitive so no byte of it passes through a shell.
func (p *Provisioner) writeFile(ctx context.Context, container, dest string, content []byte, mode string) engine.Result {
	tmp, err := os.CreateTemp("", "amp-provision-*")
	if err != nil {
		return engine.Result{ExitCode: 1, Stderr: fmt.Sprintf("create temp file: %v", err)}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return engine.Result{ExitCode: 1, Stderr: fmt.Sprintf("write temp file: %v", err)}
	}
	tmp.Close()

	if res := p.execSh(ctx, container, shortTimeout, `mkdir -p "$(dirname "$1")"`, dest); !res.Ok() {
		return res
	}
	if res := p.runner.Run(ctx, fileTimeout, "cp", tmp.Name(), container+":"+dest); !res.Ok() {
		return res
	}
	if mode != "" {
		return p.execSh(ctx, container, shortTimeout, `chmod "$1" "$2"`, mode, dest)
	}
	return engine.Result{}
}

// chown re-owns a path (recursively) to the exec identity. A no-op when no
// exec identity is mapped.
func (p *Provisioner) chown(ctx context.Context, container, execUser, path string) {
	if execUser == "" {
		return
	}
	res := p.execSh(ctx, container, fileTimeout, `chown -R "$1" "$2" 2>/dev/null || true`, execUser, path)
	if !res.Ok() {
		p.logger.Debug().Str("container", container).Str("path", path).Msg("chown failed")
	}
}

// homeFor returns the home directory provisioning writes into: the mapped
// user's home when an exec identity exists, root's otherwise.
func homeFor(execUser string) string {
	if execUser != "" {
		return "/home/hostuser"
	}
	return "/root"
}
