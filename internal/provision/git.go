package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Sections never forwarded into a container: credential helpers point at host
// keychains and include paths reference host files that do not exist inside.
var blockedGitSections = map[string]struct{}{
	"credential": {},
	"include":    {},
}

// FlattenGitConfig converts `git config --list` output (dotted key=value
// lines) back into gitconfig INI text. Two-part keys produce plain sections,
// three-or-more-part keys produce quoted subsections; dots inside a
// subsection (URLs, file paths) are preserved.
func FlattenGitConfig(listing string) string {
	type sectionKey struct {
		section    string
		subsection string
	}
	order := []sectionKey{}
	entries := map[sectionKey][]string{}

	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parts := strings.Split(key, ".")
		if len(parts) < 2 {
			continue
		}
		section := parts[0]
		if _, blocked := blockedGitSections[section]; blocked {
			continue
		}
		var sk sectionKey
		var name string
		if len(parts) == 2 {
			sk = sectionKey{section: section}
			name = parts[1]
		} else {
			sk = sectionKey{section: section, subsection: strings.Join(parts[1:len(parts)-1], ".")}
			name = parts[len(parts)-1]
		}
		if _, seen := entries[sk]; !seen {
			order = append(order, sk)
		}
		entries[sk] = append(entries[sk], fmt.Sprintf("\t%s = %s", name, value))
	}

	var b strings.Builder
	for _, sk := range order {
		if sk.subsection == "" {
			fmt.Fprintf(&b, "[%s]\n", sk.section)
		} else {
			fmt.Fprintf(&b, "[%s %q]\n", sk.section, sk.subsection)
		}
		for _, line := range entries[sk] {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// hostGitConfig reads the invoking user's effective global git configuration.
// Overridable in tests.
var hostGitConfig = func(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", fmt.Errorf("git not installed on host")
	}
	out, err := exec.CommandContext(ctx, "git", "config", "--global", "--list").Output()
	if err != nil {
		return "", fmt.Errorf("read git config: %w", err)
	}
	return string(out), nil
}

// ProvisionGit forwards the host git identity: the flattened global config
// plus the SSH known-hosts file when present. Absent host files are a skip,
// not a failure.
func (p *Provisioner) ProvisionGit(ctx context.Context, container, execUser string) Step {
	listing, err := hostGitConfig(ctx)
	if err != nil {
		return skipped(StepForwardGit, "No git configuration on host")
	}
	flattened := FlattenGitConfig(listing)
	if strings.TrimSpace(flattened) == "" {
		return skipped(StepForwardGit, "Global git config is empty")
	}

	home := homeFor(execUser)
	dest := home + "/.gitconfig"
	if res := p.writeFile(ctx, container, dest, []byte(flattened), "644"); !res.Ok() {
		return failed(StepForwardGit, "Failed to write .gitconfig", strings.TrimSpace(res.Stderr))
	}
	p.chown(ctx, container, execUser, dest)

	forwarded := []string{".gitconfig"}
	if hostDir, err := os.UserHomeDir(); err == nil {
		knownHosts := filepath.Join(hostDir, ".ssh", "known_hosts")
		if content, err := os.ReadFile(knownHosts); err == nil {
			khDest := home + "/.ssh/known_hosts"
			if res := p.writeFile(ctx, container, khDest, content, "644"); res.Ok() {
				p.chown(ctx, container, execUser, home+"/.ssh")
				forwarded = append(forwarded, "known_hosts")
			}
		}
	}

	return success(StepForwardGit, "Forwarded "+strings.Join(forwarded, ", "))
}
