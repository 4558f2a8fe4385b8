// Package domain holds the request and result shapes shared by the lifecycle
// manager, the purpose resolver, and the provisioning pipeline.
package domain

import (
	"encoding/json"
	"fmt"
)

// EnvSelectionMode enumerates how host environment variables are chosen for
// injection.
type EnvSelectionMode string

const (
	EnvAuto EnvSelectionMode = "auto"
	EnvAll  EnvSelectionMode = "all"
	EnvNone EnvSelectionMode = "none"
	EnvList EnvSelectionMode = "list"
)

// EnvSelection is either a named mode ("auto", "all", "none") or an explicit
// list of variable names. On the wire it is a plain string or a JSON array,
// matching the tool request shape.
type EnvSelection struct {
	Mode  EnvSelectionMode
	Names []string
}

// UnmarshalJSON accepts "auto" | "all" | "none" | ["NAME", ...].
func (e *EnvSelection) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch EnvSelectionMode(s) {
		case EnvAuto, EnvAll, EnvNone:
			e.Mode = EnvSelectionMode(s)
			return nil
		default:
			return fmt.Errorf("invalid env_passthrough mode %q", s)
		}
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("env_passthrough must be a mode string or a list of names")
	}
	e.Mode = EnvList
	e.Names = names
	return nil
}

// MarshalJSON emits the wire form.
func (e EnvSelection) MarshalJSON() ([]byte, error) {
	if e.Mode == EnvList {
		return json.Marshal(e.Names)
	}
	mode := e.Mode
	if mode == "" {
		mode = EnvAuto
	}
	return json.Marshal(string(mode))
}

// MountSpec is one requested bind mount.
type MountSpec struct {
	Host      string `json:"host" validate:"required"`
	Container string `json:"container" validate:"required"`
	Mode      string `json:"mode,omitempty"`
}

// PortSpec is one requested port mapping.
type PortSpec struct {
	Host      int `json:"host" validate:"required"`
	Container int `json:"container" validate:"required"`
}

// RepoSpec is one repository to clone into the container.
type RepoSpec struct {
	URL     string `json:"url" validate:"required"`
	Path    string `json:"path,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Install string `json:"install,omitempty"`
}

// CreateRequest is the full configuration for a container create operation.
// Boolean knobs that default to true are pointers so that "unset" is
// distinguishable from an explicit false; profile defaults only ever fill
// unset fields.
type CreateRequest struct {
	Name    string `json:"name,omitempty"`
	Image   string `json:"image,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	RepoURL string `json:"repo_url,omitempty"`
	Workdir string `json:"workdir,omitempty"`

	Mounts   []MountSpec `json:"mounts,omitempty" validate:"dive"`
	MountCWD *bool       `json:"mount_cwd,omitempty"`
	Ports    []PortSpec  `json:"ports,omitempty" validate:"dive"`

	Env            map[string]string `json:"env,omitempty"`
	EnvPassthrough EnvSelection      `json:"env_passthrough,omitempty"`

	ForwardGit *bool `json:"forward_git,omitempty"`
	ForwardGH  *bool `json:"forward_gh,omitempty"`
	ForwardSSH bool  `json:"forward_ssh,omitempty"`

	DotfilesRepo   string            `json:"dotfiles_repo,omitempty"`
	DotfilesScript string            `json:"dotfiles_script,omitempty"`
	DotfilesBranch string            `json:"dotfiles_branch,omitempty"`
	DotfilesTarget string            `json:"dotfiles_target,omitempty"`
	DotfilesInline map[string]string `json:"dotfiles_inline,omitempty"`
	DotfilesSkip   bool              `json:"dotfiles_skip,omitempty"`

	Repos         []RepoSpec        `json:"repos,omitempty" validate:"dive"`
	ConfigFiles   map[string]string `json:"config_files,omitempty"`
	SetupCommands []string          `json:"setup_commands,omitempty"`

	MemoryLimit string  `json:"memory_limit,omitempty"`
	CPULimit    float64 `json:"cpu_limit,omitempty"`
	GPU         bool    `json:"gpu,omitempty"`
	Network     string  `json:"network,omitempty"`
	Persistent  bool    `json:"persistent,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`

	// User overrides the computed exec identity; "root" keeps all execution
	// administrative.
	User string `json:"user,omitempty"`

	CacheBust bool `json:"cache_bust,omitempty"`
	Confirm   bool `json:"confirm,omitempty"`

	ComposeContent string `json:"compose_content,omitempty" validate:"excluded_with=ComposeFile"`
	ComposeFile    string `json:"compose_file,omitempty" validate:"excluded_with=ComposeContent"`
}

// MountCWDOrDefault reports whether the invoking working directory should be
// mounted (default true).
func (r *CreateRequest) MountCWDOrDefault() bool {
	return r.MountCWD == nil || *r.MountCWD
}

// ForwardGitOrDefault reports whether git identity forwarding is enabled
// (default true).
func (r *CreateRequest) ForwardGitOrDefault() bool {
	return r.ForwardGit == nil || *r.ForwardGit
}

// ForwardGHOrDefault reports whether gh token forwarding is enabled
// (default true).
func (r *CreateRequest) ForwardGHOrDefault() bool {
	return r.ForwardGH == nil || *r.ForwardGH
}

// HasHostMounts reports whether the effective configuration implies any
// mounted host paths. This drives the two-phase exec identity decision.
func (r *CreateRequest) HasHostMounts() bool {
	return r.MountCWDOrDefault() || len(r.Mounts) > 0
}

func boolPtr(b bool) *bool { return &b }

// SetForwardGitIfUnset fills the flag only when the caller left it unset.
func (r *CreateRequest) SetForwardGitIfUnset(v bool) {
	if r.ForwardGit == nil {
		r.ForwardGit = boolPtr(v)
	}
}

// SetForwardGHIfUnset fills the flag only when the caller left it unset.
func (r *CreateRequest) SetForwardGHIfUnset(v bool) {
	if r.ForwardGH == nil {
		r.ForwardGH = boolPtr(v)
	}
}
