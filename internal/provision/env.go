package provision

import (
	"github.com/gobwas/glob"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// neverPassthrough are host variables that the broad selection modes never
// forward. This floor filters "all" and the "auto" patterns; naming a
// variable explicitly still forwards it.
var neverPassthrough = map[string]struct{}{
	"PATH":                     {},
	"HOME":                     {},
	"SHELL":                    {},
	"USER":                     {},
	"LOGNAME":                  {},
	"PWD":                      {},
	"OLDPWD":                   {},
	"TERM":                     {},
	"DISPLAY":                  {},
	"DBUS_SESSION_BUS_ADDRESS": {},
	"XDG_RUNTIME_DIR":          {},
	"SSH_AUTH_SOCK":            {},
	"SSH_CONNECTION":           {},
	"SSH_CLIENT":               {},
	"SSH_TTY":                  {},
	"LS_COLORS":                {},
	"LANG":                     {},
	"LC_ALL":                   {},
	"HOSTNAME":                 {},
	"SHLVL":                    {},
	"_":                        {},
}

// MatchEnvPatterns returns the subset of env whose keys match at least one of
// the glob patterns. Denylisted keys never match. Patterns that fail to
// compile are ignored.
func MatchEnvPatterns(env map[string]string, patterns []string) map[string]string {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, g)
	}
	matched := make(map[string]string)
	for key, value := range env {
		if _, denied := neverPassthrough[key]; denied {
			continue
		}
		for _, g := range compiled {
			if g.Match(key) {
				matched[key] = value
				break
			}
		}
	}
	return matched
}

// ResolveEnvPassthrough determines the full set of variables to inject into a
// container: the selection-mode base from hostEnv plus the explicit extra
// entries, which always win on name conflict.
func ResolveEnvPassthrough(sel domain.EnvSelection, extra map[string]string, patterns []string, hostEnv map[string]string) map[string]string {
	var base map[string]string
	switch sel.Mode {
	case domain.EnvList:
		// Explicitly named variables are forwarded as asked, denylist or
		// not; the floor governs only the broad "all" and "auto" modes.
		base = make(map[string]string, len(sel.Names))
		for _, name := range sel.Names {
			if v, ok := hostEnv[name]; ok {
				base[name] = v
			}
		}
	case domain.EnvAll:
		base = make(map[string]string, len(hostEnv))
		for k, v := range hostEnv {
			if _, denied := neverPassthrough[k]; !denied {
				base[k] = v
			}
		}
	case domain.EnvNone:
		base = make(map[string]string)
	default: // EnvAuto and unset
		base = MatchEnvPatterns(hostEnv, patterns)
	}

	for k, v := range extra {
		base[k] = v
	}
	return base
}
