package provision

import (
	"context"
	"fmt"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// PipelineInput carries everything a provisioning run needs. Environment
// injection happens at container start; EnvInjected lists the keys that
// were passed so the report can account for them.
type PipelineInput struct {
	Container       string
	Workdir         string
	ExecUser        string
	Req             *domain.CreateRequest
	ProfileCommands []string
	SettingsFiles   map[string]string
	CacheUsed       bool
	EnvInjected     []string
}

// Run executes every provisioning step in fixed order and returns the full
// report. Steps never abort the pipeline; each failure is recorded and the
// next step runs regardless.
func (p *Provisioner) Run(ctx context.Context, in PipelineInput) Report {
	var report Report
	add := func(s Step) {
		report = append(report, s)
		p.logger.Debug().
			Str("container", in.Container).
			Str("step", s.Name).
			Str("status", string(s.Status)).
			Str("detail", s.Detail).
			Msg("Provisioning step finished")
	}

	if len(in.EnvInjected) > 0 {
		add(success(StepEnvPassthrough, fmt.Sprintf("%d environment variables injected", len(in.EnvInjected))))
	} else {
		add(skipped(StepEnvPassthrough, "No environment variables passed through"))
	}

	if in.Req.ForwardGitOrDefault() {
		add(p.ProvisionGit(ctx, in.Container, in.ExecUser))
	} else {
		add(skipped(StepForwardGit, "Git forwarding disabled"))
	}

	if in.Req.ForwardGHOrDefault() {
		add(p.ProvisionGHAuth(ctx, in.Container, in.ExecUser))
	} else {
		add(skipped(StepForwardGH, "GitHub auth forwarding disabled"))
	}

	if in.Req.ForwardSSH {
		add(p.ProvisionSSH(ctx, in.Container, in.ExecUser))
	} else {
		add(skipped(StepForwardSSH, "SSH forwarding disabled"))
	}

	add(p.ProvisionSettings(ctx, in.Container, in.ExecUser, in.SettingsFiles))

	switch {
	case in.Req.DotfilesSkip:
		add(skipped(StepDotfiles, "Dotfiles disabled"))
	case len(in.Req.DotfilesInline) > 0:
		add(p.ProvisionDotfilesInline(ctx, in.Container, in.ExecUser, in.Req.DotfilesInline))
	case in.Req.DotfilesRepo != "":
		add(p.ProvisionDotfiles(ctx, in.Container, in.ExecUser, DotfilesSpec{
			Repo:   in.Req.DotfilesRepo,
			Script: in.Req.DotfilesScript,
			Branch: in.Req.DotfilesBranch,
			Target: in.Req.DotfilesTarget,
		}))
	default:
		add(skipped(StepDotfiles, "No dotfiles repository configured"))
	}

	add(p.ProvisionRepos(ctx, in.Container, in.Workdir, in.ExecUser, in.Req.Repos))
	add(p.ProvisionConfigFiles(ctx, in.Container, in.ExecUser, in.Req.ConfigFiles))

	if in.CacheUsed {
		add(skipped(StepPurposeSetup, "Purpose environment restored from cache"))
	} else if len(in.ProfileCommands) == 0 {
		add(skipped(StepPurposeSetup, "No purpose setup needed"))
	} else {
		add(p.RunCommands(ctx, in.Container, in.Workdir, StepPurposeSetup, in.ProfileCommands))
	}

	add(p.RunCommands(ctx, in.Container, in.Workdir, StepSetupCommands, in.Req.SetupCommands))

	p.ChownWorkdir(ctx, in.Container, in.ExecUser, in.Workdir)
	return report
}
