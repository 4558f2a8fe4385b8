package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ProvisionConfigFiles writes caller-supplied file contents into the
// container at the given paths, creating parent directories as needed.
// Paths may use ~ for the exec identity's home.
func (p *Provisioner) ProvisionConfigFiles(ctx context.Context, container, execUser string, files map[string]string) Step {
	if len(files) == 0 {
		return skipped(StepConfigFiles, "No config files requested")
	}
	home := homeFor(execUser)

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var written int
	var failures []string
	for _, raw := range paths {
		dest := expandHome(raw, home)
		if res := p.writeFile(ctx, container, dest, []byte(files[raw]), "644"); !res.Ok() {
			failures = append(failures, fmt.Sprintf("%s: %s", raw, strings.TrimSpace(res.Stderr)))
			continue
		}
		p.chown(ctx, container, execUser, dest)
		written++
	}

	detail := fmt.Sprintf("%d/%d config files written", written, len(files))
	switch {
	case written == 0:
		return failed(StepConfigFiles, detail, strings.Join(failures, "; "))
	case len(failures) > 0:
		return partial(StepConfigFiles, detail, strings.Join(failures, "; "))
	default:
		return success(StepConfigFiles, detail)
	}
}
