package provision

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

// fakeRunner scripts engine results by substring match over the joined
// argument vector and records every call.
type fakeRunner struct {
	calls   [][]string
	results map[string]engine.Result
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result {
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")
	for needle, res := range f.results {
		if strings.Contains(joined, needle) {
			return res
		}
	}
	return engine.Result{}
}

func (f *fakeRunner) called(needle string) bool {
	for _, call := range f.calls {
		if strings.Contains(strings.Join(call, " "), needle) {
			return true
		}
	}
	return false
}

func newTestProvisioner(f *fakeRunner) *Provisioner {
	return NewProvisioner(f, zerolog.Nop())
}

func stubHostGit(t *testing.T, listing string, err error) {
	t.Helper()
	orig := hostGitConfig
	hostGitConfig = func(ctx context.Context) (string, error) { return listing, err }
	t.Cleanup(func() { hostGitConfig = orig })
}

func stubHostGH(t *testing.T, token string, err error) {
	t.Helper()
	orig := hostGHToken
	hostGHToken = func(ctx context.Context) (string, error) { return token, err }
	t.Cleanup(func() { hostGHToken = orig })
}

func stepNames(r Report) []string {
	names := make([]string, len(r))
	for i, s := range r {
		names[i] = s.Name
	}
	return names
}

func TestPipelineRunsEveryStepInOrder(t *testing.T) {
	stubHostGit(t, "user.name=Alice\n", nil)
	stubHostGH(t, "", fmt.Errorf("gh not installed"))

	f := &fakeRunner{}
	p := newTestProvisioner(f)

	report := p.Run(context.Background(), PipelineInput{
		Container:       "amp-test",
		Workdir:         "/workspace",
		ExecUser:        "1000:1000",
		Req:             &domain.CreateRequest{ConfigFiles: map[string]string{"/etc/motd": "hi"}},
		ProfileCommands: []string{"apt-get install -y -qq python3"},
		EnvInjected:     []string{"MY_TOKEN"},
	})

	want := []string{
		StepEnvPassthrough, StepForwardGit, StepForwardGH, StepForwardSSH,
		StepSettings, StepDotfiles, StepRepos, StepConfigFiles,
		StepPurposeSetup, StepSetupCommands,
	}
	got := stepNames(report)
	if len(got) != len(want) {
		t.Fatalf("step count = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if s := report.Find(StepForwardGit); s == nil || s.Status != StatusSuccess {
		t.Errorf("git forwarding should succeed: %+v", s)
	}
	if s := report.Find(StepForwardGH); s == nil || s.Status != StatusSkipped {
		t.Errorf("gh forwarding should skip when gh is unavailable: %+v", s)
	}
	if s := report.Find(StepConfigFiles); s == nil || s.Status != StatusSuccess {
		t.Errorf("config files should succeed: %+v", s)
	}
	if !f.called("chown") {
		t.Error("workdir should be re-owned to the exec identity at the end")
	}
}

func TestPipelineDoesNotStopOnStepFailure(t *testing.T) {
	stubHostGit(t, "", fmt.Errorf("no git"))
	stubHostGH(t, "", fmt.Errorf("no gh"))

	f := &fakeRunner{results: map[string]engine.Result{
		"git clone": {ExitCode: 128, Stderr: "fatal: repository not found"},
	}}
	p := newTestProvisioner(f)

	report := p.Run(context.Background(), PipelineInput{
		Container: "amp-test",
		Workdir:   "/workspace",
		Req: &domain.CreateRequest{
			DotfilesRepo:  "https://github.com/nobody/dotfiles",
			SetupCommands: []string{"echo done"},
		},
	})

	if s := report.Find(StepDotfiles); s == nil || s.Status != StatusFailed {
		t.Fatalf("dotfiles should fail: %+v", s)
	}
	if s := report.Find(StepSetupCommands); s == nil || s.Status != StatusSuccess {
		t.Errorf("setup commands should still run after a failed step: %+v", s)
	}
	if report.Summary() == "" {
		t.Error("summary should describe the mixed outcome")
	}
}

func TestPipelineCacheHitSkipsPurposeSetup(t *testing.T) {
	stubHostGit(t, "", fmt.Errorf("no git"))
	stubHostGH(t, "", fmt.Errorf("no gh"))

	f := &fakeRunner{}
	p := newTestProvisioner(f)

	report := p.Run(context.Background(), PipelineInput{
		Container:       "amp-test",
		Workdir:         "/workspace",
		Req:             &domain.CreateRequest{},
		ProfileCommands: []string{"apt-get install -y -qq python3"},
		CacheUsed:       true,
	})

	s := report.Find(StepPurposeSetup)
	if s == nil || s.Status != StatusSkipped {
		t.Fatalf("purpose setup must not rerun on a cache hit: %+v", s)
	}
	if f.called("apt-get") {
		t.Error("profile commands ran despite the cache hit")
	}
}

func TestPipelineDotfilesInlineBeatsRepo(t *testing.T) {
	stubHostGit(t, "", fmt.Errorf("no git"))
	stubHostGH(t, "", fmt.Errorf("no gh"))

	f := &fakeRunner{}
	p := newTestProvisioner(f)

	report := p.Run(context.Background(), PipelineInput{
		Container: "amp-test",
		Workdir:   "/workspace",
		Req: &domain.CreateRequest{
			DotfilesInline: map[string]string{".bashrc": "alias ll='ls -la'"},
			DotfilesRepo:   "https://github.com/nobody/dotfiles",
		},
	})

	if f.called("git clone") {
		t.Error("inline dotfiles should take precedence over the repository")
	}
	if s := report.Find(StepDotfiles); s == nil || s.Status != StatusSuccess {
		t.Errorf("inline dotfiles should succeed: %+v", s)
	}
}

func TestProvisionReposClonesBranch(t *testing.T) {
	f := &fakeRunner{}
	p := newTestProvisioner(f)

	step := p.ProvisionRepos(context.Background(), "amp-test", "/workspace", "",
		[]domain.RepoSpec{{URL: "https://github.com/org/proj.git", Branch: "release-2.0"}})

	if step.Status != StatusSuccess {
		t.Fatalf("status = %q: %+v", step.Status, step)
	}
	call := strings.Join(f.calls[0], " ")
	if !strings.Contains(call, "--branch release-2.0") {
		t.Errorf("branch flag missing: %s", call)
	}
	if !strings.Contains(call, "/workspace/proj") {
		t.Errorf("destination should derive from the repo name: %s", call)
	}
}

func TestRunCommandsPartial(t *testing.T) {
	f := &fakeRunner{results: map[string]engine.Result{}}
	p := newTestProvisioner(f)

	// Script seam: the command text travels as a positional parameter, so
	// match on it directly.
	f.results["bad-command"] = engine.Result{ExitCode: 127, Stderr: "not found"}

	step := p.RunCommands(context.Background(), "amp-test", "/workspace", StepSetupCommands,
		[]string{"echo ok", "bad-command", "echo again"})

	if step.Status != StatusPartial {
		t.Fatalf("status = %q, want partial", step.Status)
	}
	if !strings.Contains(step.Detail, "2/3") {
		t.Errorf("detail should count successes: %q", step.Detail)
	}
	if !strings.Contains(step.Error, "command 2") {
		t.Errorf("error should name the failing command: %q", step.Error)
	}
}

func TestExecUserForRootOverride(t *testing.T) {
	req := &domain.CreateRequest{User: "root"}
	if got := ExecUserFor(req); got != "" {
		t.Errorf("explicit root should map to empty identity, got %q", got)
	}
}

func TestExecUserForNoMounts(t *testing.T) {
	off := false
	req := &domain.CreateRequest{MountCWD: &off}
	if got := ExecUserFor(req); got != "" {
		t.Errorf("no host mounts should keep administrative identity, got %q", got)
	}
}

func TestExecUserForMountsComputesIdentity(t *testing.T) {
	req := &domain.CreateRequest{}
	got := ExecUserFor(req)
	if got == "" || !strings.Contains(got, ":") {
		t.Errorf("host mounts should produce uid:gid, got %q", got)
	}
}

func TestEnsureUserMalformed(t *testing.T) {
	p := newTestProvisioner(&fakeRunner{})
	if err := p.EnsureUser(context.Background(), "amp-test", "1000"); err == nil {
		t.Error("identity without gid should be rejected")
	}
}

func TestEnsureUserAdministrativeNoop(t *testing.T) {
	f := &fakeRunner{}
	p := newTestProvisioner(f)
	if err := p.EnsureUser(context.Background(), "amp-test", ""); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 {
		t.Error("administrative identity should not touch the container")
	}
}
