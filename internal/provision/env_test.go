package provision

import (
	"testing"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

func TestResolveEnvPassthroughAuto(t *testing.T) {
	host := map[string]string{
		"ANTHROPIC_API_KEY": "sk-123",
		"OPENAI_API_KEY":    "sk-456",
		"RANDOM_VAR":        "nope",
		"PATH":              "/usr/bin",
	}
	got := ResolveEnvPassthrough(domain.EnvSelection{Mode: domain.EnvAuto}, nil,
		[]string{"*_API_KEY", "GITHUB_*"}, host)

	if len(got) != 2 {
		t.Fatalf("expected 2 vars, got %v", got)
	}
	if got["ANTHROPIC_API_KEY"] != "sk-123" || got["OPENAI_API_KEY"] != "sk-456" {
		t.Errorf("pattern match wrong: %v", got)
	}
}

func TestResolveEnvPassthroughAllFiltersDenylist(t *testing.T) {
	host := map[string]string{
		"MY_TOKEN":      "t",
		"PATH":          "/usr/bin",
		"HOME":          "/home/me",
		"SSH_AUTH_SOCK": "/tmp/agent",
	}
	got := ResolveEnvPassthrough(domain.EnvSelection{Mode: domain.EnvAll}, nil, nil, host)

	if len(got) != 1 || got["MY_TOKEN"] != "t" {
		t.Errorf("denylisted vars leaked through all mode: %v", got)
	}
}

func TestResolveEnvPassthroughNone(t *testing.T) {
	host := map[string]string{"MY_TOKEN": "t"}
	got := ResolveEnvPassthrough(domain.EnvSelection{Mode: domain.EnvNone}, nil, nil, host)
	if len(got) != 0 {
		t.Errorf("none mode should select nothing, got %v", got)
	}
}

func TestResolveEnvPassthroughListForwardsNamedVars(t *testing.T) {
	host := map[string]string{
		"MY_TOKEN": "t",
		"TERM":     "xterm-256color",
	}
	sel := domain.EnvSelection{Mode: domain.EnvList, Names: []string{"MY_TOKEN", "TERM", "NOT_SET"}}
	got := ResolveEnvPassthrough(sel, nil, nil, host)

	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	// Naming a variable overrides the broad-mode floor.
	if got["TERM"] != "xterm-256color" {
		t.Errorf("explicitly listed variable dropped: %v", got)
	}
	if got["MY_TOKEN"] != "t" {
		t.Errorf("listed variable missing: %v", got)
	}
}

func TestResolveEnvPassthroughExplicitWins(t *testing.T) {
	host := map[string]string{"MY_TOKEN": "from-host"}
	sel := domain.EnvSelection{Mode: domain.EnvList, Names: []string{"MY_TOKEN"}}
	got := ResolveEnvPassthrough(sel, map[string]string{"MY_TOKEN": "from-request", "EXTRA": "e"}, nil, host)

	if got["MY_TOKEN"] != "from-request" {
		t.Errorf("explicit env must win over passthrough, got %q", got["MY_TOKEN"])
	}
	if got["EXTRA"] != "e" {
		t.Errorf("explicit env missing: %v", got)
	}
}

func TestMatchEnvPatternsBadPatternIgnored(t *testing.T) {
	host := map[string]string{"AWS_REGION": "us-west-2"}
	got := MatchEnvPatterns(host, []string{"[", "AWS_*"})
	if got["AWS_REGION"] != "us-west-2" {
		t.Errorf("valid pattern should still apply: %v", got)
	}
}
