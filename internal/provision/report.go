// Package provision runs the ordered post-start setup pipeline against a
// freshly created container and implements the two-phase execution identity
// model. Each step is independently attempted and independently reported; a
// failing step never aborts the pipeline, because a partial setup is still
// useful and the report tells the caller exactly what to fix.
package provision

import "fmt"

// Status is the outcome of one provisioning step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	// StatusPartial is used only for multi-item steps (commands, repos,
	// config files) where some but not all items succeeded.
	StatusPartial Status = "partial"
)

// Step names form the fixed pipeline vocabulary, in canonical order.
const (
	StepEnvPassthrough = "env_passthrough"
	StepForwardGit     = "forward_git"
	StepForwardGH      = "forward_gh"
	StepForwardSSH     = "forward_ssh"
	StepSettings       = "settings"
	StepDotfiles       = "dotfiles"
	StepRepos          = "repos"
	StepConfigFiles    = "config_files"
	StepPurposeSetup   = "purpose_setup"
	StepSetupCommands  = "setup_commands"
	StepCompose        = "compose"
)

// Step is one immutable entry of a provisioning report.
type Step struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

func success(name, detail string) Step {
	return Step{Name: name, Status: StatusSuccess, Detail: detail}
}

func skipped(name, detail string) Step {
	return Step{Name: name, Status: StatusSkipped, Detail: detail}
}

func failed(name, detail, errDetail string) Step {
	return Step{Name: name, Status: StatusFailed, Detail: detail, Error: errDetail}
}

func partial(name, detail, errDetail string) Step {
	return Step{Name: name, Status: StatusPartial, Detail: detail, Error: errDetail}
}

// Report is the ordered sequence of step outcomes for one create operation.
// It is attached to the create result and never persisted.
type Report []Step

// Find returns the step with the given name, or nil.
func (r Report) Find(name string) *Step {
	for i := range r {
		if r[i].Name == name {
			return &r[i]
		}
	}
	return nil
}

// Summary renders a one-line overview, e.g. "9 steps: 7 success, 1 skipped, 1 failed".
func (r Report) Summary() string {
	counts := map[Status]int{}
	for _, s := range r {
		counts[s.Status]++
	}
	out := fmt.Sprintf("%d steps:", len(r))
	for _, st := range []Status{StatusSuccess, StatusPartial, StatusSkipped, StatusFailed} {
		if n := counts[st]; n > 0 {
			out += fmt.Sprintf(" %d %s", n, st)
		}
	}
	return out
}
