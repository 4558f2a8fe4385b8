// Package compose manages sidecar service stacks attached to a primary
// container. It drives the engine's compose subcommand (podman compose /
// docker compose) and owns the project naming and network discovery rules.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

type runner interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result
}

// Manager runs compose operations for one engine.
type Manager struct {
	runner runner
	logger zerolog.Logger
}

// NewManager creates a compose manager over the given engine.
func NewManager(runner runner, logger zerolog.Logger) *Manager {
	return &Manager{runner: runner, logger: logger}
}

const (
	upTimeout   = 600 * time.Second
	downTimeout = 300 * time.Second
	psTimeout   = 30 * time.Second
)

// Service is one running compose service, as reported by `compose ps`.
type Service struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Image   string `json:"Image"`
}

// composeFile is the subset of the compose schema validated before `up`.
type composeFile struct {
	Services map[string]any `yaml:"services"`
}

// ValidateContent parses compose YAML and rejects documents without a
// services map. Errors here surface before any engine work happens.
func ValidateContent(content string) error {
	var doc composeFile
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("invalid compose YAML: %w", err)
	}
	if len(doc.Services) == 0 {
		return fmt.Errorf("compose content defines no services")
	}
	return nil
}

// MaterializeContent writes inline compose content to a host temp file and
// returns its path. The caller removes it after teardown.
func MaterializeContent(content string) (string, error) {
	tmp, err := os.CreateTemp("", "amp-compose-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create compose file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write compose file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write compose file: %w", err)
	}
	return tmp.Name(), nil
}

// ProjectFor derives the compose project name for a primary container.
// Compose only accepts lowercase project names.
func ProjectFor(container string) string {
	return strings.ToLower(strings.ReplaceAll(container, "_", "-"))
}

// Up brings the stack described by file up detached under the given project
// name.
func (m *Manager) Up(ctx context.Context, project, file string) error {
	res := m.runner.Run(ctx, upTimeout, "compose", "-f", file, "-p", project, "up", "-d")
	if res.TimedOut {
		return fmt.Errorf("compose up timed out for project %s", project)
	}
	if !res.Ok() {
		return fmt.Errorf("compose up failed: %s", strings.TrimSpace(res.Stderr))
	}
	m.logger.Info().Str("project", project).Msg("Compose stack up")
	return nil
}

// Down tears the project's stack down, removing orphans. Tolerates a stack
// that is already gone.
func (m *Manager) Down(ctx context.Context, project, file string) error {
	args := []string{"compose"}
	if file != "" {
		args = append(args, "-f", file)
	}
	args = append(args, "-p", project, "down", "--remove-orphans")
	res := m.runner.Run(ctx, downTimeout, args...)
	if !res.Ok() && !strings.Contains(strings.ToLower(res.Stderr), "no such") {
		return fmt.Errorf("compose down failed: %s", strings.TrimSpace(res.Stderr))
	}
	m.logger.Info().Str("project", project).Msg("Compose stack down")
	return nil
}

// PS lists the project's services. Both engine output shapes are accepted:
// one JSON array, or one JSON object per line.
func (m *Manager) PS(ctx context.Context, project string) ([]Service, error) {
	res := m.runner.Run(ctx, psTimeout, "compose", "-p", project, "ps", "--format", "json")
	if !res.Ok() {
		return nil, fmt.Errorf("compose ps failed: %s", strings.TrimSpace(res.Stderr))
	}
	return parseServices(res.Stdout)
}

func parseServices(out string) ([]Service, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var services []Service
		if err := json.Unmarshal([]byte(trimmed), &services); err != nil {
			return nil, fmt.Errorf("parse compose ps output: %w", err)
		}
		return services, nil
	}
	var services []Service
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var svc Service
		if err := json.Unmarshal([]byte(line), &svc); err != nil {
			return nil, fmt.Errorf("parse compose ps output: %w", err)
		}
		services = append(services, svc)
	}
	return services, nil
}

// NetworkName returns the project's default network if the engine knows it,
// falling back to the compose convention <project>_default.
func (m *Manager) NetworkName(ctx context.Context, project string) string {
	conventional := project + "_default"
	res := m.runner.Run(ctx, psTimeout, "network", "inspect", conventional, "--format", "{{.Name}}")
	if res.Ok() && strings.TrimSpace(res.Stdout) != "" {
		return strings.TrimSpace(res.Stdout)
	}
	return conventional
}
