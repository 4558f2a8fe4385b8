package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ProvisionSettings copies purpose-specific settings files from the host when
// they exist. files maps host paths to in-container destinations; both sides
// may be ~-relative.
func (p *Provisioner) ProvisionSettings(ctx context.Context, container, execUser string, files map[string]string) Step {
	if len(files) == 0 {
		return skipped(StepSettings, "No settings files for this purpose")
	}

	hostHome, err := os.UserHomeDir()
	if err != nil {
		hostHome = "."
	}
	containerHome := homeFor(execUser)

	var copied, missing int
	var failures []string
	for hostPath, dest := range files {
		content, err := os.ReadFile(expandHome(hostPath, hostHome))
		if err != nil {
			missing++
			continue
		}
		target := expandHome(dest, containerHome)
		if res := p.writeFile(ctx, container, target, content, "644"); !res.Ok() {
			failures = append(failures, fmt.Sprintf("%s: %s", target, strings.TrimSpace(res.Stderr)))
			continue
		}
		p.chown(ctx, container, execUser, target)
		copied++
	}

	detail := fmt.Sprintf("%d/%d settings files copied", copied, len(files))
	switch {
	case len(failures) > 0 && copied == 0:
		return failed(StepSettings, detail, strings.Join(failures, "; "))
	case len(failures) > 0:
		return partial(StepSettings, detail, strings.Join(failures, "; "))
	case copied == 0:
		return skipped(StepSettings, "No settings files present on host")
	default:
		return success(StepSettings, detail)
	}
}
