package provision

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// ProvisionRepos clones each requested repository into the container
// workdir and runs its optional install command. One failing repository
// does not stop the rest; outcomes aggregate into a single step.
func (p *Provisioner) ProvisionRepos(ctx context.Context, container, workdir, execUser string, repos []domain.RepoSpec) Step {
	if len(repos) == 0 {
		return skipped(StepRepos, "No repositories requested")
	}

	var cloned int
	var failures []string
	for _, repo := range repos {
		dest := repo.Path
		if dest == "" {
			dest = repoNameFromURL(repo.URL)
		}
		if !strings.HasPrefix(dest, "/") {
			dest = path.Join(workdir, dest)
		}

		cloneArgs := []string{"exec", container, "git", "clone"}
		if repo.Branch != "" {
			cloneArgs = append(cloneArgs, "--branch", repo.Branch)
		}
		cloneArgs = append(cloneArgs, repo.URL, dest)
		res := p.runner.Run(ctx, cmdTimeout, cloneArgs...)
		if !res.Ok() && !strings.Contains(res.Stderr, "already exists") {
			failures = append(failures, fmt.Sprintf("%s: %s", repo.URL, strings.TrimSpace(res.Stderr)))
			continue
		}
		p.chown(ctx, container, execUser, dest)

		if repo.Install != "" {
			res := p.execSh(ctx, container, cmdTimeout, `cd "$1" && sh -c "$2"`, dest, repo.Install)
			if !res.Ok() {
				failures = append(failures, fmt.Sprintf("%s install: %s", repo.URL, strings.TrimSpace(res.Stderr)))
				continue
			}
		}
		cloned++
	}

	detail := fmt.Sprintf("%d/%d repositories ready", cloned, len(repos))
	switch {
	case cloned == 0:
		return failed(StepRepos, detail, strings.Join(failures, "; "))
	case len(failures) > 0:
		return partial(StepRepos, detail, strings.Join(failures, "; "))
	default:
		return success(StepRepos, detail)
	}
}

func repoNameFromURL(url string) string {
	name := path.Base(strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git"))
	if name == "" || name == "." || name == "/" {
		return "repo"
	}
	return name
}
