package purpose

import (
	"fmt"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// UnknownPurposeError reports a purpose name with no profile definition. It is
// surfaced to the caller, never silently defaulted.
type UnknownPurposeError struct {
	Name  string
	Known []string
}

func (e *UnknownPurposeError) Error() string {
	return fmt.Sprintf("unknown purpose %q (known: %v)", e.Name, e.Known)
}

// Resolution is the outcome of merging a purpose profile into an explicit
// create request.
type Resolution struct {
	Purpose string
	Profile Profile
	// ProfileCommands are the package-install and profile setup commands.
	// They run as the purpose-setup pipeline step unless a valid cached
	// image already has them baked in.
	ProfileCommands []string
	// Hash is the profile definition content hash used as the cache
	// validity key.
	Hash string
}

// Resolve merges the named profile's defaults into req. Explicit parameters
// always win; profile values fill only unset fields. req is mutated in place.
func (r *Registry) Resolve(name string, req *domain.CreateRequest) (*Resolution, error) {
	profile, ok := r.Lookup(name)
	if !ok {
		return nil, &UnknownPurposeError{Name: name, Known: r.Names()}
	}

	if req.Image == "" {
		req.Image = profile.Image
	}
	req.SetForwardGitIfUnset(profile.ForwardGit)
	req.SetForwardGHIfUnset(profile.ForwardGH)
	if profile.ForwardSSH {
		req.ForwardSSH = true
	}
	if !profile.Dotfiles {
		req.DotfilesSkip = true
	}
	if len(profile.Env) > 0 {
		merged := make(map[string]string, len(profile.Env)+len(req.Env))
		for k, v := range profile.Env {
			merged[k] = v
		}
		for k, v := range req.Env {
			merged[k] = v
		}
		req.Env = merged
	}

	return &Resolution{
		Purpose:         name,
		Profile:         profile,
		ProfileCommands: profile.ProvisionCommands(),
		Hash:            r.Hash(name),
	}, nil
}
