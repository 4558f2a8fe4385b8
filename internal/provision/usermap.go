package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// Two-phase privilege model: containers always start with the administrative
// identity so package installation and user creation work, then subsequent
// command execution defaults to a low-privilege identity mapped to the
// invoking host user. Identity switching happens through the engine's exec
// mechanism, never through in-container privilege escalation, so the
// no-new-privileges hardening applied at start time stays intact.

// ExecUserFor computes the exec identity for a create request: the invoking
// host uid:gid when the configuration implies mounted host paths and no
// explicit override, empty (administrative) otherwise.
func ExecUserFor(req *domain.CreateRequest) string {
	user := req.User
	if user == "" && req.HasHostMounts() {
		user = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}
	if user == "root" {
		// Explicit root means no identity flag at all.
		return ""
	}
	return user
}

// EnsureUser creates a local user and group inside the container matching the
// exec identity. Idempotent: "already exists" is tolerated, because restores
// and cached images may carry the user from an earlier provisioning.
func (p *Provisioner) EnsureUser(ctx context.Context, container, execUser string) error {
	if execUser == "" {
		return nil
	}
	uid, gid, ok := strings.Cut(execUser, ":")
	if !ok {
		return fmt.Errorf("malformed exec identity %q", execUser)
	}
	res := p.execSh(ctx, container, shortTimeout,
		`groupadd -g "$2" -o hostuser 2>/dev/null; useradd -u "$1" -g "$2" -m -s /bin/bash -o hostuser 2>/dev/null; true`,
		uid, gid,
	)
	if !res.Ok() {
		return fmt.Errorf("create mapped user: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ChownWorkdir recursively re-owns the working directory to the exec
// identity after all setup steps complete.
func (p *Provisioner) ChownWorkdir(ctx context.Context, container, execUser, workdir string) {
	if execUser == "" || workdir == "" {
		return
	}
	p.chown(ctx, container, execUser, workdir)
}
