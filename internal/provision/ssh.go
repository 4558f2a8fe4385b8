package provision

import (
	"context"
	"strings"
)

// sshStageDir is where create mounts the host's key directory read-only. The
// keys are copied (not used in place) so ownership and the restrictive modes
// key-based tooling demands can be normalized.
const sshStageDir = "/tmp/.host-ssh"

// ProvisionSSH copies staged host SSH keys into the container home and
// normalizes permissions: 700 on the directory, 600 on private material, 644
// on public keys.
func (p *Provisioner) ProvisionSSH(ctx context.Context, container, execUser string) Step {
	if res := p.execSh(ctx, container, shortTimeout, `test -d "$1"`, sshStageDir); !res.Ok() {
		return skipped(StepForwardSSH, "No SSH keys staged (host ~/.ssh not found at create time)")
	}

	home := homeFor(execUser)
	script := `set -e
mkdir -p "$2/.ssh"
cp -r "$1/." "$2/.ssh/"
chmod 700 "$2/.ssh"
find "$2/.ssh" -type f -exec chmod 600 {} +
find "$2/.ssh" -type f -name '*.pub' -exec chmod 644 {} +`
	res := p.execSh(ctx, container, fileTimeout, script, sshStageDir, home)
	if !res.Ok() {
		return failed(StepForwardSSH, "Failed to install SSH keys", strings.TrimSpace(res.Stderr))
	}
	p.chown(ctx, container, execUser, home+"/.ssh")
	return success(StepForwardSSH, "SSH keys installed with normalized permissions")
}
