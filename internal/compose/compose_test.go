package compose

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

type fakeRunner struct {
	calls  [][]string
	result engine.Result
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result {
	f.calls = append(f.calls, args)
	return f.result
}

func TestValidateContent(t *testing.T) {
	valid := `
services:
  redis:
    image: redis:7
`
	if err := ValidateContent(valid); err != nil {
		t.Errorf("valid content rejected: %v", err)
	}
	if err := ValidateContent("services: {}"); err == nil {
		t.Error("empty services should be rejected")
	}
	if err := ValidateContent("{not yaml"); err == nil {
		t.Error("malformed YAML should be rejected")
	}
	if err := ValidateContent("version: '3'"); err == nil {
		t.Error("document without services should be rejected")
	}
}

func TestMaterializeContent(t *testing.T) {
	content := "services:\n  db:\n    image: postgres:16\n"
	path, err := MaterializeContent(content)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	if !strings.Contains(path, "amp-compose-") {
		t.Errorf("unexpected temp file name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != content {
		t.Errorf("materialized content mismatch: %q, %v", data, err)
	}
}

func TestUpArguments(t *testing.T) {
	f := &fakeRunner{}
	m := NewManager(f, zerolog.Nop())

	if err := m.Up(context.Background(), "amp-dev", "/tmp/stack.yaml"); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(f.calls[0], " ")
	want := "compose -f /tmp/stack.yaml -p amp-dev up -d"
	if got != want {
		t.Errorf("up args = %q, want %q", got, want)
	}
}

func TestUpFailure(t *testing.T) {
	f := &fakeRunner{result: engine.Result{ExitCode: 1, Stderr: "pull access denied"}}
	m := NewManager(f, zerolog.Nop())
	if err := m.Up(context.Background(), "amp-dev", "/tmp/stack.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDownToleratesMissingStack(t *testing.T) {
	f := &fakeRunner{result: engine.Result{ExitCode: 1, Stderr: "Error: no such project"}}
	m := NewManager(f, zerolog.Nop())
	if err := m.Down(context.Background(), "amp-dev", ""); err != nil {
		t.Errorf("missing stack should tear down cleanly: %v", err)
	}
}

func TestPSParsesArray(t *testing.T) {
	f := &fakeRunner{result: engine.Result{
		Stdout: `[{"Name":"amp-dev-redis-1","Service":"redis","State":"running","Image":"redis:7"}]`,
	}}
	m := NewManager(f, zerolog.Nop())

	services, err := m.PS(context.Background(), "amp-dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0].Service != "redis" || services[0].State != "running" {
		t.Errorf("unexpected services: %+v", services)
	}
}

func TestPSParsesJSONLines(t *testing.T) {
	f := &fakeRunner{result: engine.Result{
		Stdout: `{"Name":"amp-dev-redis-1","Service":"redis","State":"running"}
{"Name":"amp-dev-db-1","Service":"db","State":"exited"}`,
	}}
	m := NewManager(f, zerolog.Nop())

	services, err := m.PS(context.Background(), "amp-dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 2 || services[1].Service != "db" {
		t.Errorf("unexpected services: %+v", services)
	}
}

func TestPSEmpty(t *testing.T) {
	f := &fakeRunner{result: engine.Result{Stdout: "\n"}}
	m := NewManager(f, zerolog.Nop())
	services, err := m.PS(context.Background(), "amp-dev")
	if err != nil || len(services) != 0 {
		t.Errorf("empty output should yield no services, got %v, %v", services, err)
	}
}

func TestNetworkNameFallsBackToConvention(t *testing.T) {
	f := &fakeRunner{result: engine.Result{ExitCode: 1, Stderr: "no such network"}}
	m := NewManager(f, zerolog.Nop())
	if got := m.NetworkName(context.Background(), "amp-dev"); got != "amp-dev_default" {
		t.Errorf("network = %q, want amp-dev_default", got)
	}
}

func TestProjectFor(t *testing.T) {
	if got := ProjectFor("amp_dev_box"); got != "amp-dev-box" {
		t.Errorf("project = %q", got)
	}
	if got := ProjectFor("Amp_Dev"); got != "amp-dev" {
		t.Errorf("project = %q, mixed case must be lowered", got)
	}
}
