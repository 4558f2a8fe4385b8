package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Install script resolution order inside a freshly cloned dotfiles
// repository. An explicit script name beats all of these; a Makefile beats
// the symlink fallback.
var conventionalInstallScripts = []string{
	"install.sh",
	"setup.sh",
	"bootstrap.sh",
	"script/setup",
}

// Well-known files symlinked into the home directory when a dotfiles
// repository ships no install script of its own.
var wellKnownDotfiles = []string{
	".bashrc",
	".bash_profile",
	".zshrc",
	".profile",
	".vimrc",
	".tmux.conf",
	".inputrc",
	".gitconfig",
}

// DotfilesSpec configures the dotfiles application step.
type DotfilesSpec struct {
	Repo   string
	Script string
	Branch string
	Target string
}

// ProvisionDotfiles clones the dotfiles repository and runs its install
// script, resolved by fixed precedence: the explicit script name, then
// conventional script names, then a Makefile, then symlinking well-known
// dotfiles. An install script failure reports as failed, never aborts the
// pipeline. Re-running against an already-cloned target is tolerated.
func (p *Provisioner) ProvisionDotfiles(ctx context.Context, container, execUser string, spec DotfilesSpec) Step {
	home := homeFor(execUser)
	target := spec.Target
	if target == "" {
		target = "~/.dotfiles"
	}
	target = expandHome(target, home)

	cloneArgs := []string{"exec", container, "git", "clone"}
	if spec.Branch != "" {
		cloneArgs = append(cloneArgs, "--branch", spec.Branch)
	}
	cloneArgs = append(cloneArgs, spec.Repo, target)
	res := p.runner.Run(ctx, cmdTimeout, cloneArgs...)
	if !res.Ok() {
		if !strings.Contains(res.Stderr, "already exists") {
			return failed(StepDotfiles, "Failed to clone "+spec.Repo, strings.TrimSpace(res.Stderr))
		}
		// Already cloned on a previous run; re-resolve the install script.
	}
	p.chown(ctx, container, execUser, target)

	installed, step := p.runInstallScript(ctx, container, home, target, spec.Script)
	if step != nil {
		return *step
	}
	p.chown(ctx, container, execUser, home)
	return success(StepDotfiles, fmt.Sprintf("Cloned %s, %s", spec.Repo, installed))
}

// runInstallScript resolves and runs the repository's install mechanism.
// Returns a description of what ran, or a failed step.
func (p *Provisioner) runInstallScript(ctx context.Context, container, home, target, explicit string) (string, *Step) {
	candidates := conventionalInstallScripts
	if explicit != "" {
		candidates = []string{explicit}
	}
	for _, script := range candidates {
		if res := p.execSh(ctx, container, shortTimeout, `test -f "$1/$2"`, target, script); !res.Ok() {
			continue
		}
		res := p.execSh(ctx, container, cmdTimeout, `cd "$1" && sh "$2"`, target, script)
		if !res.Ok() {
			s := failed(StepDotfiles, "Install script "+script+" failed", strings.TrimSpace(res.Stderr))
			return "", &s
		}
		return "ran " + script, nil
	}
	if explicit != "" {
		s := failed(StepDotfiles, "Install script "+explicit+" not found in repository", "")
		return "", &s
	}

	if res := p.execSh(ctx, container, shortTimeout, `test -f "$1/Makefile"`, target); res.Ok() {
		res := p.execSh(ctx, container, cmdTimeout, `make -C "$1"`, target)
		if !res.Ok() {
			s := failed(StepDotfiles, "Dotfiles make failed", strings.TrimSpace(res.Stderr))
			return "", &s
		}
		return "ran make", nil
	}

	script := `linked=0
for f in ` + strings.Join(wellKnownDotfiles, " ") + `; do
  if [ -f "$1/$f" ]; then
    ln -sf "$1/$f" "$2/$f"
    linked=$((linked + 1))
  fi
done
echo "$linked"`
	res := p.execSh(ctx, container, shortTimeout, script, target, home)
	if !res.Ok() {
		s := failed(StepDotfiles, "Failed to symlink dotfiles", strings.TrimSpace(res.Stderr))
		return "", &s
	}
	return "symlinked " + strings.TrimSpace(res.Stdout) + " files", nil
}

// ProvisionDotfilesInline writes caller-supplied dotfile content directly
// into the container home. Paths are home-relative; per-file outcomes are
// aggregated.
func (p *Provisioner) ProvisionDotfilesInline(ctx context.Context, container, execUser string, files map[string]string) Step {
	home := homeFor(execUser)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var written int
	var failures []string
	for _, name := range names {
		dest := expandHome(name, home)
		if !strings.HasPrefix(dest, "/") {
			dest = home + "/" + dest
		}
		if res := p.writeFile(ctx, container, dest, []byte(files[name]), "644"); !res.Ok() {
			failures = append(failures, fmt.Sprintf("%s: %s", name, strings.TrimSpace(res.Stderr)))
			continue
		}
		p.chown(ctx, container, execUser, dest)
		written++
	}

	detail := fmt.Sprintf("%d/%d inline dotfiles written", written, len(files))
	switch {
	case written == 0:
		return failed(StepDotfiles, detail, strings.Join(failures, "; "))
	case len(failures) > 0:
		return partial(StepDotfiles, detail, strings.Join(failures, "; "))
	default:
		return success(StepDotfiles, detail)
	}
}
