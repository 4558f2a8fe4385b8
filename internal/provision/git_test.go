package provision

import (
	"strings"
	"testing"
)

func TestFlattenGitConfigBasicSections(t *testing.T) {
	listing := "user.name=Alice Smith\nuser.email=alice@example.com\ncore.editor=vim\n"
	got := FlattenGitConfig(listing)

	want := "[user]\n\tname = Alice Smith\n\temail = alice@example.com\n[core]\n\teditor = vim\n"
	if got != want {
		t.Errorf("flattened config mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFlattenGitConfigSubsectionPreservesDots(t *testing.T) {
	listing := `url.https://github.com/.insteadof=git@github.com:`
	got := FlattenGitConfig(listing)

	if !strings.Contains(got, `[url "https://github.com/"]`) {
		t.Errorf("subsection with dots not preserved:\n%s", got)
	}
	if !strings.Contains(got, "\tinsteadof = git@github.com:") {
		t.Errorf("subsection key missing:\n%s", got)
	}
}

func TestFlattenGitConfigBlocksCredentialAndInclude(t *testing.T) {
	listing := strings.Join([]string{
		"user.name=Alice",
		"credential.helper=osxkeychain",
		"credential.https://github.com.helper=gh",
		"include.path=~/.gitconfig.local",
	}, "\n")
	got := FlattenGitConfig(listing)

	if strings.Contains(got, "credential") || strings.Contains(got, "include") {
		t.Errorf("blocked sections leaked:\n%s", got)
	}
	if !strings.Contains(got, "\tname = Alice") {
		t.Errorf("allowed entries dropped:\n%s", got)
	}
}

func TestFlattenGitConfigValueWithEquals(t *testing.T) {
	listing := "alias.st=status --short=always"
	got := FlattenGitConfig(listing)
	if !strings.Contains(got, "\tst = status --short=always") {
		t.Errorf("value containing '=' mangled:\n%s", got)
	}
}

func TestFlattenGitConfigSkipsMalformedLines(t *testing.T) {
	listing := "garbage line\n\nuser.name=Alice\nnodots=value\n"
	got := FlattenGitConfig(listing)
	want := "[user]\n\tname = Alice\n"
	if got != want {
		t.Errorf("malformed lines should be dropped:\ngot:\n%s", got)
	}
}
