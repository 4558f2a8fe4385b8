package purpose

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

// fakeRunner scripts engine results by matching a substring of the joined
// argument vector.
type fakeRunner struct {
	calls   [][]string
	results map[string]engine.Result
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, args ...string) engine.Result {
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")
	for key, res := range f.results {
		if strings.Contains(joined, key) {
			return res
		}
	}
	return engine.Result{ExitCode: 1, Stderr: "no scripted result"}
}

func TestCacheLookupHit(t *testing.T) {
	reg := testRegistry(t, nil)
	hash := reg.Hash("python")
	runner := &fakeRunner{results: map[string]engine.Result{
		"image inspect": {ExitCode: 0, Stdout: hash + "\n"},
	}}
	cache := NewCache(runner, reg, zerolog.Nop())

	tag, ok := cache.Lookup(context.Background(), "python")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if tag != "amplifier-cache:python" {
		t.Errorf("tag = %q", tag)
	}
}

func TestCacheLookupStaleHash(t *testing.T) {
	reg := testRegistry(t, nil)
	runner := &fakeRunner{results: map[string]engine.Result{
		"image inspect": {ExitCode: 0, Stdout: "deadbeef\n"},
	}}
	cache := NewCache(runner, reg, zerolog.Nop())

	if _, ok := cache.Lookup(context.Background(), "python"); ok {
		t.Error("stale hash must miss")
	}
}

func TestCacheLookupNoImage(t *testing.T) {
	reg := testRegistry(t, nil)
	runner := &fakeRunner{results: map[string]engine.Result{}}
	cache := NewCache(runner, reg, zerolog.Nop())

	if _, ok := cache.Lookup(context.Background(), "python"); ok {
		t.Error("missing image must miss")
	}
}

func TestCacheCommitStampsVersionLabel(t *testing.T) {
	reg := testRegistry(t, nil)
	runner := &fakeRunner{results: map[string]engine.Result{
		"commit": {ExitCode: 0, Stdout: "sha256:abc\n"},
	}}
	cache := NewCache(runner, reg, zerolog.Nop())

	cache.Commit(context.Background(), "amp-python-abc123", "python")

	if len(runner.calls) != 1 {
		t.Fatalf("got %d engine calls, want 1", len(runner.calls))
	}
	joined := strings.Join(runner.calls[0], " ")
	if !strings.Contains(joined, "LABEL amplifier.cache.version="+reg.Hash("python")) {
		t.Errorf("commit missing version label: %v", runner.calls[0])
	}
	if !strings.Contains(joined, "amplifier-cache:python") {
		t.Errorf("commit missing cache tag: %v", runner.calls[0])
	}
}

func TestCacheClearAll(t *testing.T) {
	reg := testRegistry(t, nil)
	runner := &fakeRunner{results: map[string]engine.Result{
		"images": {ExitCode: 0, Stdout: "amplifier-cache:python\namplifier-cache:node\n"},
		"rmi":    {ExitCode: 0},
	}}
	cache := NewCache(runner, reg, zerolog.Nop())

	cleared := cache.ClearAll(context.Background())
	if len(cleared) != 2 {
		t.Errorf("cleared = %v, want 2 tags", cleared)
	}
}
