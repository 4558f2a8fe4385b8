// Package purpose maps purpose names to container profiles and manages the
// locally cached, pre-provisioned images built from them.
//
// Cache validity is keyed on a content hash of the profile definition alone.
// A change in the upstream base image (for example a security patch to
// ubuntu:24.04) does not change the hash and therefore does not invalidate an
// existing cached image. This is a known staleness gap; cache_bust or an
// explicit cache clear forces a fresh build.
package purpose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/amplifier-bundle-containers/internal/config"
)

// Profile is a named template of smart defaults for a container purpose.
// Definitions are loaded once at startup and treated as immutable for the
// life of the process.
type Profile struct {
	Image         string            `yaml:"image"`
	Packages      []string          `yaml:"packages,omitempty"`
	SetupCommands []string          `yaml:"setup_commands,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	ForwardGit    bool              `yaml:"forward_git"`
	ForwardGH     bool              `yaml:"forward_gh"`
	ForwardSSH    bool              `yaml:"forward_ssh"`
	Dotfiles      bool              `yaml:"dotfiles"`
	// SettingsFiles maps host paths (~ expanded at provisioning time) to
	// in-container destinations, copied when present on the host.
	SettingsFiles map[string]string `yaml:"settings_files,omitempty"`
	// CacheEligible controls whether a provisioned container may be
	// committed as a reusable image for this purpose.
	CacheEligible bool `yaml:"cache_eligible"`
}

func builtinProfiles() map[string]Profile {
	return map[string]Profile{
		"python": {
			Image:    "python:3.12-slim",
			Packages: []string{"git", "curl", "build-essential"},
			SetupCommands: []string{
				"pip install --quiet uv",
				"uv venv /workspace/.venv",
			},
			Env: map[string]string{
				"VIRTUAL_ENV": "/workspace/.venv",
				"PATH":        "/workspace/.venv/bin:$PATH",
			},
			ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"node": {
			Image:         "node:20-slim",
			Packages:      []string{"git", "curl"},
			SetupCommands: []string{"corepack enable"},
			ForwardGit:    true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"rust": {
			Image:      "rust:1-slim",
			Packages:   []string{"git", "curl", "build-essential", "pkg-config", "libssl-dev"},
			ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"go": {
			Image:      "golang:1.24",
			Packages:   []string{"git", "curl"},
			ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"general": {
			Image: "ubuntu:24.04",
			Packages: []string{
				"git", "curl", "build-essential", "wget", "jq",
				"tree", "vim-tiny", "less", "make",
			},
			ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"amplifier": {
			Image:    "python:3.12-slim",
			Packages: []string{"git", "curl", "jq"},
			SetupCommands: []string{
				"pip install --quiet uv",
				"UV_TOOL_BIN_DIR=/usr/local/bin uv tool install amplifier",
			},
			SettingsFiles: map[string]string{
				"~/.amplifier/config.yaml":   "~/.amplifier/config.yaml",
				"~/.amplifier/settings.json": "~/.amplifier/settings.json",
			},
			ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true,
		},
		"clean": {
			Image:    "ubuntu:24.04",
			Packages: []string{"git", "curl"},
			// No credential forwarding and no dotfiles: a pristine box.
			CacheEligible: true,
		},
	}
}

// Registry holds the effective profile set: built-ins merged with config-file
// overrides and additions.
type Registry struct {
	profiles map[string]Profile
	logger   zerolog.Logger
}

// NewRegistry builds the process-wide profile set. Config entries override
// built-in profiles field-by-field and may define entirely new purposes.
func NewRegistry(overrides map[string]config.ProfileConfig, logger zerolog.Logger) *Registry {
	profiles := builtinProfiles()
	for name, o := range overrides {
		p, ok := profiles[name]
		if !ok {
			// New purposes default to forwarding identity but not keys.
			p = Profile{ForwardGit: true, ForwardGH: true, Dotfiles: true, CacheEligible: true}
		}
		if o.Image != "" {
			p.Image = o.Image
		}
		if len(o.Packages) > 0 {
			p.Packages = o.Packages
		}
		if len(o.SetupCommands) > 0 {
			p.SetupCommands = o.SetupCommands
		}
		if len(o.Env) > 0 {
			p.Env = o.Env
		}
		if o.ForwardGit != nil {
			p.ForwardGit = *o.ForwardGit
		}
		if o.ForwardGH != nil {
			p.ForwardGH = *o.ForwardGH
		}
		if o.ForwardSSH != nil {
			p.ForwardSSH = *o.ForwardSSH
		}
		if o.Dotfiles != nil {
			p.Dotfiles = *o.Dotfiles
		}
		if len(o.SettingsFiles) > 0 {
			p.SettingsFiles = o.SettingsFiles
		}
		profiles[name] = p
		logger.Debug().Str("purpose", name).Msg("Purpose profile loaded from config")
	}
	return &Registry{profiles: profiles, logger: logger}
}

// Lookup returns the profile for name.
func (r *Registry) Lookup(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns all known purpose names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash returns the 8-hex-character content hash of the named profile
// definition, or the empty string for an unknown purpose. Any change to the
// definition changes the hash and thereby invalidates cached images.
func (r *Registry) Hash(name string) string {
	p, ok := r.profiles[name]
	if !ok {
		return ""
	}
	canonical, err := yaml.Marshal(canonicalize(p))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:8]
}

// canonicalize produces a deterministic representation of a profile: maps are
// flattened into sorted key=value lines so yaml map ordering cannot perturb
// the hash.
func canonicalize(p Profile) map[string]any {
	return map[string]any{
		"image":          p.Image,
		"packages":       strings.Join(p.Packages, "\x00"),
		"setup_commands": strings.Join(p.SetupCommands, "\x00"),
		"env":            sortedPairs(p.Env),
		"forward_git":    p.ForwardGit,
		"forward_gh":     p.ForwardGH,
		"forward_ssh":    p.ForwardSSH,
		"dotfiles":       p.Dotfiles,
		"settings_files": sortedPairs(p.SettingsFiles),
	}
}

func sortedPairs(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x00")
}

// PackageInstallCommand renders the profile's OS package installation as one
// setup command, or "" when the profile needs no packages.
func (p Profile) PackageInstallCommand() string {
	if len(p.Packages) == 0 {
		return ""
	}
	return "apt-get update -qq && apt-get install -y -qq " + strings.Join(p.Packages, " ")
}

// ProvisionCommands returns the full ordered setup command list baked into a
// cached image for this profile: package installation followed by the
// profile's own setup commands.
func (p Profile) ProvisionCommands() []string {
	var cmds []string
	if pkg := p.PackageInstallCommand(); pkg != "" {
		cmds = append(cmds, pkg)
	}
	return append(cmds, p.SetupCommands...)
}
