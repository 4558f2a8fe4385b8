package purpose

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/config"
	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

func testRegistry(t *testing.T, overrides map[string]config.ProfileConfig) *Registry {
	t.Helper()
	return NewRegistry(overrides, zerolog.Nop())
}

func TestResolvePython(t *testing.T) {
	reg := testRegistry(t, nil)
	req := &domain.CreateRequest{}
	res, err := reg.Resolve("python", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Image != "python:3.12-slim" {
		t.Errorf("image = %q", req.Image)
	}
	joined := strings.Join(res.ProfileCommands, " ")
	if !strings.Contains(joined, "uv") {
		t.Errorf("expected uv setup in profile commands: %v", res.ProfileCommands)
	}
	if !strings.Contains(res.ProfileCommands[0], "apt-get") {
		t.Errorf("package install should come first: %v", res.ProfileCommands)
	}
}

func TestResolveClean(t *testing.T) {
	reg := testRegistry(t, nil)
	req := &domain.CreateRequest{}
	if _, err := reg.Resolve("clean", req); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !req.DotfilesSkip {
		t.Error("clean purpose should skip dotfiles")
	}
	if req.ForwardGitOrDefault() || req.ForwardGHOrDefault() || req.ForwardSSH {
		t.Error("clean purpose should not forward credentials")
	}
}

func TestResolveUnknownPurpose(t *testing.T) {
	reg := testRegistry(t, nil)
	_, err := reg.Resolve("unknown-thing", &domain.CreateRequest{})
	if err == nil {
		t.Fatal("expected error for unknown purpose")
	}
	var unknownErr *UnknownPurposeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownPurposeError, got %T", err)
	}
	if unknownErr.Name != "unknown-thing" {
		t.Errorf("Name = %q", unknownErr.Name)
	}
}

func TestExplicitImageWins(t *testing.T) {
	reg := testRegistry(t, nil)
	req := &domain.CreateRequest{Image: "my-custom:latest"}
	if _, err := reg.Resolve("python", req); err != nil {
		t.Fatal(err)
	}
	if req.Image != "my-custom:latest" {
		t.Errorf("explicit image overridden: %q", req.Image)
	}
}

func TestExplicitForwardFlagWins(t *testing.T) {
	reg := testRegistry(t, nil)
	off := false
	req := &domain.CreateRequest{ForwardGit: &off}
	if _, err := reg.Resolve("python", req); err != nil {
		t.Fatal(err)
	}
	if req.ForwardGitOrDefault() {
		t.Error("explicit forward_git=false overridden by profile default")
	}
}

func TestProfileEnvMergedExplicitWins(t *testing.T) {
	reg := testRegistry(t, nil)
	req := &domain.CreateRequest{Env: map[string]string{
		"VIRTUAL_ENV": "/custom",
		"MY_VAR":      "1",
	}}
	if _, err := reg.Resolve("python", req); err != nil {
		t.Fatal(err)
	}
	if req.Env["VIRTUAL_ENV"] != "/custom" {
		t.Errorf("explicit env lost: %q", req.Env["VIRTUAL_ENV"])
	}
	if req.Env["MY_VAR"] != "1" {
		t.Error("user env var dropped")
	}
	if _, ok := req.Env["PATH"]; !ok {
		t.Error("profile PATH env missing")
	}
}

func TestConfigOverrideProfile(t *testing.T) {
	forward := false
	reg := testRegistry(t, map[string]config.ProfileConfig{
		"python": {Image: "python:3.13", ForwardGH: &forward},
		"data":   {Image: "jupyter/base-notebook"},
	})
	p, ok := reg.Lookup("python")
	if !ok || p.Image != "python:3.13" {
		t.Errorf("override not applied: %+v", p)
	}
	if p.ForwardGH {
		t.Error("forward_gh override not applied")
	}
	if _, ok := reg.Lookup("data"); !ok {
		t.Error("new config-defined purpose missing")
	}
}

func TestHashDeterministic(t *testing.T) {
	reg := testRegistry(t, nil)
	h1 := reg.Hash("python")
	h2 := reg.Hash("python")
	if h1 == "" || len(h1) != 8 {
		t.Fatalf("hash = %q", h1)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %q vs %q", h1, h2)
	}
}

func TestHashUnknownPurpose(t *testing.T) {
	reg := testRegistry(t, nil)
	if h := reg.Hash("nonexistent"); h != "" {
		t.Errorf("hash for unknown purpose = %q, want empty", h)
	}
}

func TestHashChangesWithDefinition(t *testing.T) {
	base := testRegistry(t, nil)
	changed := testRegistry(t, map[string]config.ProfileConfig{
		"python": {SetupCommands: []string{"pip install --quiet uv", "echo extra"}},
	})
	if base.Hash("python") == changed.Hash("python") {
		t.Error("definition change did not change hash")
	}
}
