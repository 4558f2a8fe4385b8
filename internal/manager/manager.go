// Package manager implements the container lifecycle operations: the full
// create flow, execution, inspection, teardown, snapshots, networks, and the
// purpose cache controls. It is the only package that composes the engine,
// the metadata store, the resolver, and the provisioning pipeline.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/compose"
	"github.com/microsoft/amplifier-bundle-containers/internal/config"
	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
	"github.com/microsoft/amplifier-bundle-containers/internal/jobs"
	"github.com/microsoft/amplifier-bundle-containers/internal/metadata"
	"github.com/microsoft/amplifier-bundle-containers/internal/provision"
	"github.com/microsoft/amplifier-bundle-containers/internal/purpose"
	"github.com/microsoft/amplifier-bundle-containers/internal/safety"
)

// Labels stamped on every managed container. List and destroy-all select on
// the managed label, never on name patterns.
const (
	LabelManaged    = "amplifier.managed"
	LabelPurpose    = "amplifier.purpose"
	LabelCreated    = "amplifier.created"
	LabelPersistent = "amplifier.persistent"
)

// containerEngine is the slice of the engine adapter the manager needs.
type containerEngine interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result
	Detect() string
	DaemonResponsive(ctx context.Context) bool
	UserHasPermission(ctx context.Context) bool
}

// Manager coordinates all container operations for one configuration.
type Manager struct {
	engine   containerEngine
	store    *metadata.Store
	registry *purpose.Registry
	cache    *purpose.Cache
	prov     *provision.Provisioner
	jobs     *jobs.Manager
	compose  *compose.Manager
	reviewer *safety.Reviewer
	validate *validator.Validate
	cfg      *config.Config
	logger   zerolog.Logger

	// Preflight success is cached per instance; failure is re-checked so a
	// daemon started mid-session is picked up.
	preflightMu sync.Mutex
	preflightOK bool
}

// New wires a Manager from configuration.
func New(cfg *config.Config, logger zerolog.Logger) *Manager {
	eng := engine.New(cfg.Engine.Prefer, logger)
	registry := purpose.NewRegistry(cfg.Profiles, logger)
	return &Manager{
		engine:   eng,
		store:    metadata.NewStore(cfg.Store.Dir),
		registry: registry,
		cache:    purpose.NewCache(eng, registry, logger),
		prov:     provision.NewProvisioner(eng, logger),
		jobs:     jobs.NewManager(eng, logger),
		compose:  compose.NewManager(eng, logger),
		reviewer: safety.NewReviewer(cfg.Safety),
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *Manager) commandTimeout() time.Duration {
	if m.cfg.Engine.CommandTimeout > 0 {
		return time.Duration(m.cfg.Engine.CommandTimeout) * time.Second
	}
	return 300 * time.Second
}

// PreflightResult reports engine readiness. DiskFree and GPURuntime are
// informational; they never fail the check.
type PreflightResult struct {
	Ready      bool   `json:"ready"`
	Engine     string `json:"engine,omitempty"`
	DiskUsage  string `json:"disk_usage,omitempty"`
	GPURuntime bool   `json:"gpu_runtime"`
	Error      string `json:"error,omitempty"`
}

// Preflight re-runs the readiness checks and reports the outcome without
// failing the call.
func (m *Manager) Preflight(ctx context.Context) *PreflightResult {
	if err := m.ensureReady(ctx); err != nil {
		return &PreflightResult{Ready: false, Error: err.Error()}
	}
	out := &PreflightResult{Ready: true, Engine: m.engine.Detect()}
	if res := m.engine.Run(ctx, 15*time.Second, "system", "df", "--format", "{{.Type}}: {{.Size}}"); res.Ok() {
		out.DiskUsage = strings.TrimSpace(res.Stdout)
	}
	if res := m.engine.Run(ctx, 15*time.Second, "info", "--format", "{{.Runtimes}}"); res.Ok() {
		out.GPURuntime = strings.Contains(res.Stdout, "nvidia")
	}
	return out
}

// ensureReady verifies an engine binary exists, its daemon answers, and the
// invoking user may talk to it. Success is cached for the Manager's lifetime.
func (m *Manager) ensureReady(ctx context.Context) error {
	m.preflightMu.Lock()
	defer m.preflightMu.Unlock()
	if m.preflightOK {
		return nil
	}
	binary := m.engine.Detect()
	if binary == "" {
		return opErrorf(CodeEngineUnavailable,
			"install podman or docker and ensure it is on PATH",
			"no container engine found")
	}
	if !m.engine.DaemonResponsive(ctx) {
		return opErrorf(CodeEngineUnavailable,
			fmt.Sprintf("start the %s daemon (or 'podman machine start' on macOS)", binary),
			"%s is installed but not responding", binary)
	}
	if !m.engine.UserHasPermission(ctx) {
		return opErrorf(CodeEngineUnavailable,
			fmt.Sprintf("add the current user to the %s group or use rootless mode", binary),
			"current user may not access the %s daemon", binary)
	}
	m.preflightOK = true
	return nil
}

// managedNames lists containers carrying the managed label, running or not.
func (m *Manager) managedNames(ctx context.Context) ([]string, error) {
	res := m.engine.Run(ctx, 30*time.Second,
		"ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", "{{.Names}}",
	)
	if !res.Ok() {
		return nil, opErrorf(CodeEngineError, "", "list containers: %s", strings.TrimSpace(res.Stderr))
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *Manager) containerExists(ctx context.Context, name string) bool {
	res := m.engine.Run(ctx, 15*time.Second, "inspect", "--format", "{{.Id}}", name)
	return res.Ok()
}
