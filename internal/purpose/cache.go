package purpose

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/microsoft/amplifier-bundle-containers/internal/engine"
)

const (
	// CacheRepository is the local image repository holding per-purpose
	// cached images; the purpose name is the tag.
	CacheRepository = "amplifier-cache"
	// VersionLabel stores the profile content hash on a cached image.
	VersionLabel = "amplifier.cache.version"
)

type runner interface {
	Run(ctx context.Context, timeout time.Duration, args ...string) engine.Result
}

// Cache resolves and maintains pre-provisioned images committed per purpose.
type Cache struct {
	runner   runner
	registry *Registry
	logger   zerolog.Logger
}

// NewCache creates a Cache over the given engine and profile registry.
func NewCache(runner runner, registry *Registry, logger zerolog.Logger) *Cache {
	return &Cache{runner: runner, registry: registry, logger: logger}
}

// Tag returns the cache image reference for a purpose.
func Tag(purpose string) string {
	return CacheRepository + ":" + purpose
}

// Lookup returns the cached image tag for purpose when one exists and its
// stored version label matches the live profile hash. A missing or stale
// image is not an error; the caller silently falls back to a fresh build.
func (c *Cache) Lookup(ctx context.Context, purpose string) (string, bool) {
	tag := Tag(purpose)
	res := c.runner.Run(ctx, 10*time.Second,
		"image", "inspect",
		"--format", `{{index .Config.Labels "`+VersionLabel+`"}}`,
		tag,
	)
	if !res.Ok() {
		return "", false
	}
	expected := c.registry.Hash(purpose)
	cached := strings.TrimSpace(res.Stdout)
	if expected == "" || cached != expected {
		c.logger.Debug().
			Str("purpose", purpose).
			Str("cached_hash", cached).
			Str("expected_hash", expected).
			Msg("Cached image is stale")
		return "", false
	}
	return tag, true
}

// Commit captures a freshly provisioned container as the cached image for
// purpose, stamping it with the current profile hash. Failures are logged and
// swallowed: caching is a side effect of a successful create, never a reason
// to fail one.
func (c *Cache) Commit(ctx context.Context, container, purpose string) {
	hash := c.registry.Hash(purpose)
	args := []string{"commit"}
	if hash != "" {
		args = append(args, "--change", "LABEL "+VersionLabel+"="+hash)
	}
	args = append(args, container, Tag(purpose))
	res := c.runner.Run(ctx, 120*time.Second, args...)
	if !res.Ok() {
		c.logger.Warn().
			Str("purpose", purpose).
			Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("Failed to commit purpose cache image")
		return
	}
	c.logger.Info().Str("purpose", purpose).Str("hash", hash).Msg("Committed purpose cache image")
}

// Clear removes the cached image for one purpose. Returns the removed tags.
func (c *Cache) Clear(ctx context.Context, purpose string) []string {
	tag := Tag(purpose)
	res := c.runner.Run(ctx, 15*time.Second, "rmi", tag)
	if !res.Ok() {
		return nil
	}
	return []string{tag}
}

// ClearAll removes every cached purpose image.
func (c *Cache) ClearAll(ctx context.Context) []string {
	list := c.runner.Run(ctx, 10*time.Second,
		"images",
		"--format", "{{.Repository}}:{{.Tag}}",
		"--filter", "reference="+CacheRepository+":*",
	)
	if !list.Ok() {
		return nil
	}
	var cleared []string
	for _, line := range strings.Split(strings.TrimSpace(list.Stdout), "\n") {
		tag := strings.TrimSpace(line)
		if tag == "" {
			continue
		}
		if c.runner.Run(ctx, 15*time.Second, "rmi", tag).Ok() {
			cleared = append(cleared, tag)
		}
	}
	return cleared
}
