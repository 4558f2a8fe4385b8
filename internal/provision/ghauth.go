package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// hostGHToken extracts the locally cached GitHub CLI token. Overridable in
// tests.
var hostGHToken = func(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", fmt.Errorf("gh not installed")
	}
	out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
	if err != nil {
		return "", fmt.Errorf("gh not authenticated")
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", fmt.Errorf("gh returned an empty token")
	}
	return token, nil
}

// ProvisionGHAuth forwards the host's GitHub CLI token into the container:
// into the git credential store so private clones (dotfiles, repos) succeed,
// and as GH_TOKEN for login shells. Runs before dotfiles and repository
// steps, which depend on it for private sources.
func (p *Provisioner) ProvisionGHAuth(ctx context.Context, container, execUser string) Step {
	token, err := hostGHToken(ctx)
	if err != nil {
		return skipped(StepForwardGH,
			"GitHub CLI unavailable or not logged in — install gh and run 'gh auth login' to forward credentials")
	}

	home := homeFor(execUser)
	credentials := fmt.Sprintf("https://x-access-token:%s@github.com\n", token)
	if res := p.writeFile(ctx, container, home+"/.git-credentials", []byte(credentials), "600"); !res.Ok() {
		return failed(StepForwardGH, "Failed to write git credentials", strings.TrimSpace(res.Stderr))
	}
	p.chown(ctx, container, execUser, home+"/.git-credentials")

	// Point git at the credential store. Appended as raw config text so the
	// step works before git is installed in the container.
	res := p.execSh(ctx, container, shortTimeout,
		`printf '[credential]\n\thelper = store\n' >> "$1/.gitconfig"`, home)
	if !res.Ok() {
		return failed(StepForwardGH, "Failed to enable credential store", strings.TrimSpace(res.Stderr))
	}
	p.chown(ctx, container, execUser, home+"/.gitconfig")

	profile := fmt.Sprintf("export GH_TOKEN=%q\n", token)
	if res := p.writeFile(ctx, container, "/etc/profile.d/amp-gh-token.sh", []byte(profile), "644"); !res.Ok() {
		return partial(StepForwardGH, "Credential store configured; GH_TOKEN export failed",
			strings.TrimSpace(res.Stderr))
	}

	return success(StepForwardGH, "GH token forwarded (git credential store + GH_TOKEN)")
}
