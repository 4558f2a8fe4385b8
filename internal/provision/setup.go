package provision

import (
	"context"
	"fmt"
	"strings"
)

// RunCommands runs a sequence of shell commands in the container workdir
// as root, tracking per-command outcomes. Used for both profile setup and
// caller setup commands; a failing command does not stop the rest.
func (p *Provisioner) RunCommands(ctx context.Context, container, workdir, stepName string, commands []string) Step {
	if len(commands) == 0 {
		return skipped(stepName, "No commands to run")
	}

	var ran int
	var failures []string
	for i, cmd := range commands {
		res := p.execSh(ctx, container, cmdTimeout, `cd "$1" && sh -c "$2"`, workdir, cmd)
		if res.TimedOut {
			failures = append(failures, fmt.Sprintf("command %d timed out: %s", i+1, truncateCommand(cmd)))
			continue
		}
		if !res.Ok() {
			failures = append(failures, fmt.Sprintf("command %d failed (exit %d): %s", i+1, res.ExitCode, truncateCommand(cmd)))
			p.logger.Warn().
				Str("container", container).
				Str("command", cmd).
				Int("exit_code", res.ExitCode).
				Str("stderr", strings.TrimSpace(res.Stderr)).
				Msg("Setup command failed")
			continue
		}
		ran++
	}

	detail := fmt.Sprintf("%d/%d commands succeeded", ran, len(commands))
	switch {
	case ran == 0:
		return failed(stepName, detail, strings.Join(failures, "; "))
	case len(failures) > 0:
		return partial(stepName, detail, strings.Join(failures, "; "))
	default:
		return success(stepName, detail)
	}
}

func truncateCommand(cmd string) string {
	if len(cmd) > 80 {
		return cmd[:77] + "..."
	}
	return cmd
}
