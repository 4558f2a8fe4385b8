package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/amplifier-bundle-containers/internal/compose"
	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
	"github.com/microsoft/amplifier-bundle-containers/internal/metadata"
	"github.com/microsoft/amplifier-bundle-containers/internal/provision"
	"github.com/microsoft/amplifier-bundle-containers/internal/purpose"
	"github.com/microsoft/amplifier-bundle-containers/internal/safety"
)

// DefaultWorkdir is where the invoking directory is mounted and where setup
// commands run.
const DefaultWorkdir = "/workspace"

const createTimeout = 600 * time.Second

// CreateResult is the outcome of a create operation, including the full
// provisioning report so callers see exactly what was set up.
type CreateResult struct {
	Success     bool             `json:"success"`
	Name        string           `json:"container"`
	ID          string           `json:"id"`
	Engine      string           `json:"engine"`
	Image       string           `json:"image"`
	Purpose     string           `json:"purpose,omitempty"`
	CacheUsed   bool             `json:"cache_used"`
	ConnectHint string           `json:"connect_hint"`
	Report      provision.Report `json:"provisioning"`
	Summary     string           `json:"summary"`
}

// Create provisions a new container end to end: resolve the purpose, check
// the safety policy, consult the purpose cache, start the container and any
// compose sidecars, run the provisioning pipeline, and persist the record.
func (m *Manager) Create(ctx context.Context, req *domain.CreateRequest) (*CreateResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, opErrorf(CodeInvalidConfig, "fix the listed fields and retry", "invalid request: %v", err)
	}

	if req.Purpose == "try-repo" {
		if req.RepoURL == "" {
			return nil, opErrorf(CodeInvalidConfig, "pass repo_url with the try-repo purpose",
				"try-repo needs a repository to inspect")
		}
		req.Purpose = ""
	}
	if req.RepoURL != "" && req.Purpose == "" {
		m.detectRepoPurpose(ctx, req)
	}
	if req.Purpose == "" {
		req.Purpose = "general"
	}

	resolution, err := m.registry.Resolve(req.Purpose, req)
	if err != nil {
		var unknown *purpose.UnknownPurposeError
		if errors.As(err, &unknown) {
			return nil, opErrorf(CodeUnknownPurpose,
				fmt.Sprintf("use one of: %s", strings.Join(unknown.Known, ", ")),
				"unknown purpose %q", unknown.Name)
		}
		return nil, err
	}
	m.applyDotfilesDefaults(req)

	if err := m.reviewer.CheckCreate(req); err != nil {
		var confirmation *safety.ConfirmationError
		if errors.As(err, &confirmation) {
			return nil, opErrorf(CodeConfirmationRequired,
				"retry with confirm=true to accept: "+strings.Join(confirmation.Reasons, ", "),
				"%v", err)
		}
		return nil, err
	}
	existing, err := m.managedNames(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.reviewer.CheckCapacity(len(existing)); err != nil {
		return nil, opErrorf(CodeInvalidConfig, "destroy an unused container or raise safety.max_containers", "%v", err)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("amp-%s-%s", req.Purpose, uuid.NewString()[:6])
	}
	if m.containerExists(ctx, name) {
		return nil, opErrorf(CodeAlreadyExists,
			"pick a different name or destroy the existing container first",
			"container %q already exists", name)
	}

	image := req.Image
	cacheUsed := false
	if resolution.Profile.CacheEligible && !req.CacheBust {
		if tag, ok := m.cache.Lookup(ctx, req.Purpose); ok {
			image = tag
			cacheUsed = true
		}
	}

	workdir := req.Workdir
	if workdir == "" {
		workdir = DefaultWorkdir
	}

	stack, err := m.bringUpCompose(ctx, name, req)
	if err != nil {
		return nil, err
	}

	envVars := provision.ResolveEnvPassthrough(req.EnvPassthrough, req.Env, m.cfg.Env.Patterns, hostEnviron())
	execUser := provision.ExecUserFor(req)

	runArgs := m.buildRunArgs(name, image, workdir, req, stack)
	runArgs = appendEnvArgs(runArgs, envVars)
	runArgs = append(runArgs, image, "sleep", "infinity")

	res := m.engine.Run(ctx, createTimeout, runArgs...)
	if !res.Ok() {
		// A failed run can leave a dead container holding the name.
		m.engine.Run(ctx, 10*time.Second, "rm", "-f", name)
		m.tearDownCompose(ctx, stack)
		if res.TimedOut {
			return nil, opErrorf(CodeEngineError, "check network access to the image registry",
				"container start timed out pulling %s", image)
		}
		return nil, opErrorf(CodeEngineError, "", "container start failed: %s", strings.TrimSpace(res.Stderr))
	}
	containerID := strings.TrimSpace(res.Stdout)

	if err := m.prov.EnsureUser(ctx, name, execUser); err != nil {
		m.logger.Warn().Err(err).Str("container", name).Msg("User mapping failed, keeping administrative identity")
		execUser = ""
	}

	report := m.prov.Run(ctx, provision.PipelineInput{
		Container:       name,
		Workdir:         workdir,
		ExecUser:        execUser,
		Req:             req,
		ProfileCommands: resolution.ProfileCommands,
		SettingsFiles:   resolution.Profile.SettingsFiles,
		CacheUsed:       cacheUsed,
		EnvInjected:     sortedKeys(envVars),
	})
	if stack != nil {
		report = append(report, stack.step())
	}

	rec := recordFor(name, containerID, image, workdir, execUser, req, stack)
	if err := m.store.Save(rec); err != nil {
		m.logger.Error().Err(err).Str("container", name).Msg("Failed to persist container record")
	}

	if resolution.Profile.CacheEligible && !cacheUsed && setupSucceeded(report) {
		m.cache.Commit(ctx, name, req.Purpose)
	}

	binary := m.engine.Detect()
	return &CreateResult{
		Success:     true,
		Name:        name,
		ID:          containerID,
		Engine:      binary,
		Image:       image,
		Purpose:     req.Purpose,
		CacheUsed:   cacheUsed,
		ConnectHint: fmt.Sprintf("%s exec -it %s %s %s", binary, execFlags(execUser, workdir), name, m.shellFor(ctx, name)),
		Report:      report,
		Summary:     report.Summary(),
	}, nil
}

// detectRepoPurpose inspects the repository named by a try-repo create and
// fills the purpose plus a clone entry. Detection failure falls back to the
// general profile; the clone itself will surface any real access problem.
func (m *Manager) detectRepoPurpose(ctx context.Context, req *domain.CreateRequest) {
	detection, err := purpose.DetectRepoPurpose(ctx, req.RepoURL)
	if err != nil {
		m.logger.Warn().Err(err).Str("repo", req.RepoURL).Msg("Repository inspection failed, using general purpose")
		req.Purpose = "general"
	} else {
		req.Purpose = detection.Purpose
		req.SetupCommands = append(req.SetupCommands, detection.SetupHints...)
	}
	repoDir := filepath.Base(strings.TrimSuffix(req.RepoURL, ".git"))
	req.Repos = append(req.Repos, domain.RepoSpec{URL: req.RepoURL, Path: repoDir})
}

// applyDotfilesDefaults fills the configured default dotfiles source when the
// request names none.
func (m *Manager) applyDotfilesDefaults(req *domain.CreateRequest) {
	if req.DotfilesSkip || req.DotfilesRepo != "" || len(req.DotfilesInline) > 0 {
		return
	}
	if m.cfg.Dotfiles.Repo == "" {
		return
	}
	req.DotfilesRepo = m.cfg.Dotfiles.Repo
	req.DotfilesScript = m.cfg.Dotfiles.Script
	req.DotfilesBranch = m.cfg.Dotfiles.Branch
	req.DotfilesTarget = m.cfg.Dotfiles.Target
}

// composeStack tracks sidecar state for teardown and the record.
type composeStack struct {
	project  string
	file     string
	tempFile bool
	network  string
	err      string
}

func (s *composeStack) step() provision.Step {
	if s.err != "" {
		return provision.Step{Name: provision.StepCompose, Status: provision.StatusFailed, Detail: "Compose stack failed", Error: s.err}
	}
	return provision.Step{Name: provision.StepCompose, Status: provision.StatusSuccess,
		Detail: fmt.Sprintf("Compose project %s up, network %s", s.project, s.network)}
}

// bringUpCompose starts sidecar services before the primary container so the
// primary can join their network. No compose in the request means a nil
// stack.
func (m *Manager) bringUpCompose(ctx context.Context, name string, req *domain.CreateRequest) (*composeStack, error) {
	if req.ComposeContent == "" && req.ComposeFile == "" {
		return nil, nil
	}

	stack := &composeStack{project: compose.ProjectFor(name)}
	if req.ComposeContent != "" {
		if err := compose.ValidateContent(req.ComposeContent); err != nil {
			return nil, opErrorf(CodeInvalidConfig, "fix the compose YAML and retry", "%v", err)
		}
		file, err := compose.MaterializeContent(req.ComposeContent)
		if err != nil {
			return nil, opErrorf(CodeEngineError, "", "%v", err)
		}
		stack.file = file
		stack.tempFile = true
	} else {
		if _, err := os.Stat(req.ComposeFile); err != nil {
			return nil, opErrorf(CodeInvalidConfig, "pass an existing compose file path", "compose file: %v", err)
		}
		stack.file = req.ComposeFile
	}

	if err := m.compose.Up(ctx, stack.project, stack.file); err != nil {
		m.tearDownCompose(ctx, stack)
		return nil, opErrorf(CodeEngineError, "check the compose file's images and ports", "%v", err)
	}
	stack.network = m.compose.NetworkName(ctx, stack.project)
	return stack, nil
}

func (m *Manager) tearDownCompose(ctx context.Context, stack *composeStack) {
	if stack == nil {
		return
	}
	if err := m.compose.Down(ctx, stack.project, stack.file); err != nil {
		m.logger.Warn().Err(err).Str("project", stack.project).Msg("Compose teardown failed")
	}
	if stack.tempFile {
		os.Remove(stack.file)
	}
}

// buildRunArgs assembles the run argument vector: hardening first, then
// resources, placement, and mounts.
func (m *Manager) buildRunArgs(name, image, workdir string, req *domain.CreateRequest, stack *composeStack) []string {
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", LabelManaged + "=true",
		"--label", LabelPurpose + "=" + req.Purpose,
		"--label", LabelCreated + "=" + time.Now().UTC().Format(time.RFC3339),
		"--label", fmt.Sprintf("%s=%t", LabelPersistent, req.Persistent),
		"--security-opt", "no-new-privileges",
	}
	for _, kv := range labelPairs(req.Labels) {
		args = append(args, "--label", kv)
	}

	memory := req.MemoryLimit
	if memory == "" {
		memory = m.cfg.Security.DefaultMemory
	}
	if memory != "" {
		args = append(args, "--memory", memory)
	}
	if m.cfg.Security.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", m.cfg.Security.PidsLimit))
	}
	if req.CPULimit > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%g", req.CPULimit))
	}
	if req.GPU {
		args = append(args, "--gpus", "all")
	}

	network := req.Network
	if network == "" && stack != nil {
		network = stack.network
	}
	if network != "" {
		args = append(args, "--network", network)
	}
	for _, p := range req.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p.Host, p.Container))
	}

	if req.MountCWDOrDefault() {
		if cwd, err := os.Getwd(); err == nil {
			args = append(args, "-v", cwd+":"+workdir)
		}
	}
	for _, mnt := range req.Mounts {
		spec := mnt.Host + ":" + mnt.Container
		if mnt.Mode != "" {
			spec += ":" + mnt.Mode
		}
		args = append(args, "-v", spec)
	}
	if req.ForwardSSH {
		if home, err := os.UserHomeDir(); err == nil {
			hostSSH := filepath.Join(home, ".ssh")
			if _, err := os.Stat(hostSSH); err == nil {
				args = append(args, "-v", hostSSH+":/tmp/.host-ssh:ro")
			}
		}
	}

	args = append(args, "-w", workdir)
	return args
}

func appendEnvArgs(args []string, envVars map[string]string) []string {
	for _, k := range sortedKeys(envVars) {
		args = append(args, "-e", k+"="+envVars[k])
	}
	return args
}

func labelPairs(labels map[string]string) []string {
	pairs := make([]string, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		pairs = append(pairs, k+"="+labels[k])
	}
	return pairs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hostEnviron() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// setupSucceeded reports whether the steps that shape the cached image (the
// purpose setup) completed, making the container worth committing.
func setupSucceeded(report provision.Report) bool {
	step := report.Find(provision.StepPurposeSetup)
	if step == nil {
		return false
	}
	return step.Status == provision.StatusSuccess || step.Status == provision.StatusSkipped
}

func execFlags(execUser, workdir string) string {
	flags := "-w " + workdir
	if execUser != "" {
		flags += " -u " + execUser
	}
	return flags
}

func recordFor(name, id, image, workdir, execUser string, req *domain.CreateRequest, stack *composeStack) *metadata.Record {
	rec := &metadata.Record{
		Name:        name,
		ContainerID: id,
		Image:       image,
		Purpose:     req.Purpose,
		Created:     time.Now().UTC(),
		Persistent:  req.Persistent,
		Workdir:     workdir,
		MountCWD:    req.MountCWDOrDefault(),
		ExecUser:    execUser,
		Forwarding: metadata.Forwarding{
			Git:          req.ForwardGitOrDefault(),
			GH:           req.ForwardGHOrDefault(),
			SSH:          req.ForwardSSH,
			DotfilesRepo: req.DotfilesRepo,
		},
	}
	for _, mnt := range req.Mounts {
		rec.Mounts = append(rec.Mounts, metadata.Mount{Host: mnt.Host, Container: mnt.Container, Mode: mnt.Mode})
	}
	for _, p := range req.Ports {
		rec.Ports = append(rec.Ports, metadata.Port{Host: p.Host, Container: p.Container})
	}
	for k := range req.Env {
		rec.EnvKeys = append(rec.EnvKeys, k)
	}
	sort.Strings(rec.EnvKeys)
	if stack != nil {
		rec.ComposeProject = stack.project
		rec.ComposeFile = stack.file
		rec.ComposeNetwork = stack.network
	}
	return rec
}
