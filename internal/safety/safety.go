// Package safety gates risky container configurations behind explicit
// confirmation. A review produces the list of reasons a request needs
// confirming; callers surface those reasons and retry with confirm set.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/microsoft/amplifier-bundle-containers/internal/config"
	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// Reasons a request can require confirmation.
const (
	ReasonGPUAccess         = "gpu_access"
	ReasonHostNetwork       = "host_network"
	ReasonSensitiveMounts   = "sensitive_mounts"
	ReasonSSHForwarding     = "ssh_forwarding"
	ReasonAllEnvPassthrough = "all_env_passthrough"
	ReasonDestroyAll        = "destroy_all"
)

var reasonDetail = map[string]string{
	ReasonGPUAccess:         "container requests GPU device access",
	ReasonHostNetwork:       "container joins the host network namespace",
	ReasonSensitiveMounts:   "container mounts a sensitive host path",
	ReasonSSHForwarding:     "host SSH keys will be copied into the container",
	ReasonAllEnvPassthrough: "every host environment variable will be forwarded",
	ReasonDestroyAll:        "all managed containers will be destroyed",
}

// ConfirmationError reports why an unconfirmed request was held back.
type ConfirmationError struct {
	Reasons []string
}

func (e *ConfirmationError) Error() string {
	details := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		details[i] = reasonDetail[r]
	}
	return "confirmation required: " + strings.Join(details, "; ")
}

// Reviewer evaluates requests against the configured safety policy.
type Reviewer struct {
	cfg config.SafetyConfig
}

// NewReviewer creates a reviewer for the given policy.
func NewReviewer(cfg config.SafetyConfig) *Reviewer {
	return &Reviewer{cfg: cfg}
}

func (r *Reviewer) requires(reason string) bool {
	for _, want := range r.cfg.RequireApprovalFor {
		if want == reason {
			return true
		}
	}
	return false
}

// ReviewCreate returns the confirmation reasons a create request triggers.
// An empty result means the request may proceed without confirmation.
func (r *Reviewer) ReviewCreate(req *domain.CreateRequest) []string {
	var reasons []string
	if req.GPU && r.requires(ReasonGPUAccess) {
		reasons = append(reasons, ReasonGPUAccess)
	}
	if req.Network == "host" && r.requires(ReasonHostNetwork) {
		reasons = append(reasons, ReasonHostNetwork)
	}
	if r.requires(ReasonSensitiveMounts) && r.hasSensitiveMount(req.Mounts) {
		reasons = append(reasons, ReasonSensitiveMounts)
	}
	if req.ForwardSSH && r.requires(ReasonSSHForwarding) {
		reasons = append(reasons, ReasonSSHForwarding)
	}
	if req.EnvPassthrough.Mode == domain.EnvAll && r.requires(ReasonAllEnvPassthrough) {
		reasons = append(reasons, ReasonAllEnvPassthrough)
	}
	return reasons
}

// CheckCreate rejects an unconfirmed risky request with a ConfirmationError.
func (r *Reviewer) CheckCreate(req *domain.CreateRequest) error {
	reasons := r.ReviewCreate(req)
	if len(reasons) > 0 && !req.Confirm {
		return &ConfirmationError{Reasons: reasons}
	}
	return nil
}

// CheckDestroyAll rejects an unconfirmed destroy-all.
func (r *Reviewer) CheckDestroyAll(confirm bool) error {
	if r.requires(ReasonDestroyAll) && !confirm {
		return &ConfirmationError{Reasons: []string{ReasonDestroyAll}}
	}
	return nil
}

// CheckCapacity enforces the managed-container ceiling. A zero limit means
// unlimited.
func (r *Reviewer) CheckCapacity(current int) error {
	if r.cfg.MaxContainers > 0 && current >= r.cfg.MaxContainers {
		return fmt.Errorf("container limit reached (%d of %d); destroy one first",
			current, r.cfg.MaxContainers)
	}
	return nil
}

func (r *Reviewer) hasSensitiveMount(mounts []domain.MountSpec) bool {
	home, _ := os.UserHomeDir()
	for _, m := range mounts {
		host := m.Host
		if home != "" {
			if expanded := expandMountHome(host, home); expanded != "" {
				host = expanded
			}
		}
		host = filepath.Clean(host)
		for _, prefix := range r.cfg.SensitiveMountPrefixes {
			p := prefix
			if home != "" {
				if expanded := expandMountHome(p, home); expanded != "" {
					p = expanded
				}
			}
			if host == p || strings.HasPrefix(host, p+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

func expandMountHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
