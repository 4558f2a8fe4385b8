package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/microsoft/amplifier-bundle-containers/internal/compose"
	"github.com/microsoft/amplifier-bundle-containers/internal/metadata"
)

// ContainerInfo is one row of a list result: live engine state joined with
// the stored record when one exists.
type ContainerInfo struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Image      string    `json:"image"`
	Purpose    string    `json:"purpose,omitempty"`
	Created    time.Time `json:"created,omitzero"`
	Persistent bool      `json:"persistent"`
	Workdir    string    `json:"workdir,omitempty"`
}

// List enumerates managed containers. The engine is ground truth: records
// whose container disappeared are pruned, containers without records still
// appear.
func (m *Manager) List(ctx context.Context) ([]ContainerInfo, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	res := m.engine.Run(ctx, 30*time.Second,
		"ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", "{{.Names}}\t{{.State}}\t{{.Image}}",
	)
	if !res.Ok() {
		return nil, opErrorf(CodeEngineError, "", "list containers: %s", strings.TrimSpace(res.Stderr))
	}

	live := make(map[string]ContainerInfo)
	var order []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 || parts[0] == "" {
			continue
		}
		live[parts[0]] = ContainerInfo{Name: parts[0], State: parts[1], Image: parts[2]}
		order = append(order, parts[0])
	}

	m.pruneStaleRecords(live)

	infos := make([]ContainerInfo, 0, len(order))
	for _, name := range order {
		info := live[name]
		if rec, err := m.store.Load(name); err == nil && rec != nil {
			info.Purpose = rec.Purpose
			info.Created = rec.Created
			info.Persistent = rec.Persistent
			info.Workdir = rec.Workdir
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *Manager) pruneStaleRecords(live map[string]ContainerInfo) {
	names, err := m.store.ListNames()
	if err != nil {
		return
	}
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if err := m.store.Remove(name); err == nil {
			m.logger.Debug().Str("container", name).Msg("Pruned record for vanished container")
		}
	}
}

// StatusResult is the detailed view of one container.
type StatusResult struct {
	Info     ContainerInfo     `json:"info"`
	Record   *metadata.Record  `json:"record,omitempty"`
	Services []compose.Service `json:"services,omitempty"`
}

// Status reports live state, the stored record, and any compose sidecars.
func (m *Manager) Status(ctx context.Context, name string) (*StatusResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	res := m.engine.Run(ctx, 15*time.Second, "inspect", "--format",
		"{{.State.Status}}\t{{.Config.Image}}", name)
	if !res.Ok() {
		rec, _ := m.store.Load(name)
		if rec != nil {
			if err := m.store.Remove(name); err != nil {
				m.logger.Warn().Err(err).Str("container", name).Msg("Failed to prune stale record")
			}
		}
		return nil, notFound(name)
	}
	state, image, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\t")

	out := &StatusResult{Info: ContainerInfo{Name: name, State: state, Image: image}}
	if rec, err := m.store.Load(name); err == nil && rec != nil {
		out.Record = rec
		out.Info.Purpose = rec.Purpose
		out.Info.Created = rec.Created
		out.Info.Persistent = rec.Persistent
		out.Info.Workdir = rec.Workdir
		if rec.ComposeProject != "" {
			if services, err := m.compose.PS(ctx, rec.ComposeProject); err == nil {
				out.Services = services
			}
		}
	}
	return out, nil
}

// Destroy removes a container and everything attached to it: compose
// sidecars first (so their network releases), then the container, then the
// record. Destroying an unknown name is not found; a record without a live
// container still cleans up.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	rec, err := m.store.Load(name)
	if err != nil {
		return opErrorf(CodeEngineError, "", "read container record: %v", err)
	}
	exists := m.containerExists(ctx, name)
	if rec == nil && !exists {
		return notFound(name)
	}

	if rec != nil && rec.ComposeProject != "" {
		if err := m.compose.Down(ctx, rec.ComposeProject, rec.ComposeFile); err != nil {
			m.logger.Warn().Err(err).Str("project", rec.ComposeProject).Msg("Compose teardown failed")
		}
		if rec.ComposeFile != "" && strings.HasPrefix(rec.ComposeFile, os.TempDir()) {
			os.Remove(rec.ComposeFile)
		}
	}

	if exists {
		if res := m.engine.Run(ctx, 30*time.Second, "stop", "-t", "5", name); !res.Ok() {
			m.logger.Debug().Str("container", name).Msg("Graceful stop failed, forcing removal")
		}
		if res := m.engine.Run(ctx, 30*time.Second, "rm", "-f", name); !res.Ok() {
			return opErrorf(CodeEngineError, "", "remove container %q: %s", name, strings.TrimSpace(res.Stderr))
		}
	}

	if err := m.store.Remove(name); err != nil {
		return opErrorf(CodeEngineError, "", "remove container record: %v", err)
	}
	m.logger.Info().Str("container", name).Msg("Container destroyed")
	return nil
}

// DestroyAllResult lists what a destroy-all removed and what resisted.
type DestroyAllResult struct {
	Destroyed []string          `json:"destroyed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// DestroyAll removes every managed container. Gated by the safety policy's
// confirmation requirement.
func (m *Manager) DestroyAll(ctx context.Context, confirm bool) (*DestroyAllResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := m.reviewer.CheckDestroyAll(confirm); err != nil {
		return nil, opErrorf(CodeConfirmationRequired, "retry with confirm=true", "%v", err)
	}
	names, err := m.managedNames(ctx)
	if err != nil {
		return nil, err
	}

	out := &DestroyAllResult{}
	for _, name := range names {
		if err := m.Destroy(ctx, name); err != nil {
			if out.Failed == nil {
				out.Failed = make(map[string]string)
			}
			out.Failed[name] = err.Error()
			continue
		}
		out.Destroyed = append(out.Destroyed, name)
	}
	return out, nil
}

// CopyIn copies a host path into the container.
func (m *Manager) CopyIn(ctx context.Context, name, hostPath, containerPath string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	if _, err := m.resolveTarget(ctx, name); err != nil {
		return err
	}
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return opErrorf(CodeInvalidConfig, "pass a valid host path", "%v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return opErrorf(CodeInvalidConfig, "pass an existing host path", "host path: %v", err)
	}
	// Resolve symlinks so the engine sees the real path. On macOS /tmp
	// is a link to /private/tmp and cp fails on the unresolved form.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	res := m.engine.Run(ctx, 120*time.Second, "cp", abs, name+":"+containerPath)
	if !res.Ok() {
		return opErrorf(CodeEngineError, "", "copy into %q: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CopyOut copies a container path to the host, creating parent directories.
func (m *Manager) CopyOut(ctx context.Context, name, containerPath, hostPath string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	if _, err := m.resolveTarget(ctx, name); err != nil {
		return err
	}
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return opErrorf(CodeInvalidConfig, "pass a valid host path", "%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return opErrorf(CodeEngineError, "", "create destination directory: %v", err)
	}
	// The destination itself may not exist yet, so resolve its parent.
	if parent, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(parent, filepath.Base(abs))
	}
	res := m.engine.Run(ctx, 120*time.Second, "cp", name+":"+containerPath, abs)
	if !res.Ok() {
		return opErrorf(CodeEngineError, "", "copy out of %q: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// SnapshotResult names the committed image.
type SnapshotResult struct {
	Image string `json:"image"`
}

// Snapshot commits the container's current filesystem as an image. Tag
// defaults to amp-snapshot-<name>:<timestamp>.
func (m *Manager) Snapshot(ctx context.Context, name, tag string) (*SnapshotResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if _, err := m.resolveTarget(ctx, name); err != nil {
		return nil, err
	}
	if tag == "" {
		tag = fmt.Sprintf("amplifier-snapshot:%s-%s", name, time.Now().UTC().Format("20060102-150405"))
	}
	res := m.engine.Run(ctx, 300*time.Second, "commit", name, tag)
	if !res.Ok() {
		return nil, opErrorf(CodeEngineError, "", "snapshot %q: %s", name, strings.TrimSpace(res.Stderr))
	}
	m.logger.Info().Str("container", name).Str("image", tag).Msg("Snapshot committed")
	return &SnapshotResult{Image: tag}, nil
}

// Restore starts a new container from a snapshot image, inheriting the
// source container's record shape when one survives.
func (m *Manager) Restore(ctx context.Context, image, newName string) (*CreateResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if newName == "" {
		return nil, opErrorf(CodeInvalidConfig, "pass a name for the restored container", "name is required")
	}
	if m.containerExists(ctx, newName) {
		return nil, opErrorf(CodeAlreadyExists, "pick a different name", "container %q already exists", newName)
	}

	// Same hardening and resource limits as a fresh create. Provisioning
	// is not re-run, the snapshot carries the provisioned filesystem.
	args := []string{
		"run", "-d",
		"--name", newName,
		"--label", LabelManaged + "=true",
		"--label", LabelCreated + "=" + time.Now().UTC().Format(time.RFC3339),
		"--security-opt", "no-new-privileges",
		"-w", DefaultWorkdir,
	}
	if m.cfg.Security.DefaultMemory != "" {
		args = append(args, "--memory", m.cfg.Security.DefaultMemory)
	}
	if m.cfg.Security.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", m.cfg.Security.PidsLimit))
	}
	args = append(args, image, "sleep", "infinity")

	res := m.engine.Run(ctx, createTimeout, args...)
	if !res.Ok() {
		m.engine.Run(ctx, 10*time.Second, "rm", "-f", newName)
		return nil, opErrorf(CodeEngineError, "", "restore from %q: %s", image, strings.TrimSpace(res.Stderr))
	}
	id := strings.TrimSpace(res.Stdout)

	rec := &metadata.Record{
		Name:        newName,
		ContainerID: id,
		Image:       image,
		Created:     time.Now().UTC(),
		Workdir:     DefaultWorkdir,
	}
	if err := m.store.Save(rec); err != nil {
		m.logger.Error().Err(err).Str("container", newName).Msg("Failed to persist restored record")
	}

	binary := m.engine.Detect()
	return &CreateResult{
		Success:     true,
		Name:        newName,
		ID:          id,
		Engine:      binary,
		Image:       image,
		ConnectHint: fmt.Sprintf("%s exec -it -w %s %s %s", binary, DefaultWorkdir, newName, m.shellFor(ctx, newName)),
		Summary:     "restored from snapshot",
	}, nil
}

// CreateNetwork makes a named engine network for containers to share.
func (m *Manager) CreateNetwork(ctx context.Context, name string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	res := m.engine.Run(ctx, 30*time.Second, "network", "create", "--label", LabelManaged+"=true", name)
	if !res.Ok() {
		if strings.Contains(strings.ToLower(res.Stderr), "already exists") {
			return opErrorf(CodeAlreadyExists, "reuse it or pick another name", "network %q already exists", name)
		}
		return opErrorf(CodeEngineError, "", "create network %q: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// DestroyNetwork removes a network. Fails while containers are attached.
func (m *Manager) DestroyNetwork(ctx context.Context, name string) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}
	res := m.engine.Run(ctx, 30*time.Second, "network", "rm", name)
	if !res.Ok() {
		stderr := strings.ToLower(res.Stderr)
		if strings.Contains(stderr, "not found") || strings.Contains(stderr, "no such network") {
			return notFound(name)
		}
		return opErrorf(CodeEngineError, "disconnect or destroy attached containers first",
			"remove network %q: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CacheClearResult lists the removed cache images.
type CacheClearResult struct {
	Cleared []string `json:"cleared"`
}

// CacheClear removes the cached image for one purpose, or all of them when
// purpose is empty.
func (m *Manager) CacheClear(ctx context.Context, purposeName string) (*CacheClearResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if purposeName == "" {
		return &CacheClearResult{Cleared: m.cache.ClearAll(ctx)}, nil
	}
	return &CacheClearResult{Cleared: m.cache.Clear(ctx, purposeName)}, nil
}
