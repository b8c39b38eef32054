// Package assetcache stores playable audio assets on disk, keyed by source
// token and variant. Each source has up to two cached files: the plain
// download and a version with the ambience bed mixed in. Concurrent requests
// for the same asset collapse into a single acquisition.
package assetcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/drizzlebot/drizzle/internal/acquire"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/resolver"
)

// Sentinel errors for the distinct ways an asset can fail to materialise.
var (
	ErrDownloadFailed = errors.New("assetcache: download failed")
	ErrMixFailed      = errors.New("assetcache: ambience mix failed")
	ErrNoRainBed      = errors.New("assetcache: no ambience bed configured")
)

// Cache materialises audio assets under a root directory. Safe for
// concurrent use.
type Cache struct {
	root    string
	fetcher acquire.Fetcher
	mixer   acquire.Mixer
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	bedPath string

	group singleflight.Group
}

// New returns a [Cache] rooted at dir. bedPath is the ambience bed file;
// when empty, rain-variant requests fail with [ErrNoRainBed]. The root
// directory is created if missing.
func New(dir, bedPath string, f acquire.Fetcher, m acquire.Mixer, met *observe.Metrics, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assetcache: create root %s: %w", dir, err)
	}
	return &Cache{
		root:    dir,
		bedPath: bedPath,
		fetcher: f,
		mixer:   m,
		metrics: met,
		log:     log,
	}, nil
}

// SetBedPath swaps the ambience bed file. Assets already mixed with the old
// bed stay cached; only new rain-variant acquisitions use the new bed.
func (c *Cache) SetBedPath(path string) {
	c.mu.Lock()
	c.bedPath = path
	c.mu.Unlock()
}

// BedPath returns the current ambience bed file, or "" when none is set.
func (c *Cache) BedPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bedPath
}

// PlainPath returns the cache path of the plain variant for a source token.
func (c *Cache) PlainPath(id string) string {
	return filepath.Join(c.root, "plain_"+id+".mp3")
}

// RainPath returns the cache path of the ambience-mixed variant.
func (c *Cache) RainPath(id string) string {
	return filepath.Join(c.root, "rain_"+id+".mp3")
}

// Resolve returns the path of a playable file for ref, acquiring it first if
// it is not cached yet. With wantRain the returned file has the ambience bed
// mixed in; the plain variant is always materialised first and kept, so a
// later request for the other variant of the same source reuses the
// download.
func (c *Cache) Resolve(ctx context.Context, ref resolver.SourceRef, wantRain bool) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assetcache.resolve",
		trace.WithAttributes(
			attribute.String("source", ref.ID),
			attribute.Bool("rain", wantRain),
		))
	defer span.End()

	plain := c.PlainPath(ref.ID)
	if err := c.ensure(ctx, "plain:"+ref.ID, "plain", plain, func(ctx context.Context, tmp string) error {
		return c.download(ctx, ref, tmp)
	}); err != nil {
		return "", err
	}
	if !wantRain {
		return plain, nil
	}

	bed := c.BedPath()
	if bed == "" {
		return "", fmt.Errorf("%w: source %s", ErrNoRainBed, ref.ID)
	}
	mixed := c.RainPath(ref.ID)
	if err := c.ensure(ctx, "rain:"+ref.ID, "rain", mixed, func(ctx context.Context, tmp string) error {
		return c.mix(ctx, ref, plain, tmp)
	}); err != nil {
		return "", err
	}
	return mixed, nil
}

// ensure materialises dest exactly once across concurrent callers. produce
// writes into a temporary path inside the cache root; the result is
// published with a rename so a cached file is always complete. A failed
// produce leaves nothing behind.
func (c *Cache) ensure(ctx context.Context, key, variant, dest string, produce func(ctx context.Context, tmp string) error) error {
	_, err, _ := c.group.Do(key, func() (any, error) {
		if _, err := os.Stat(dest); err == nil {
			c.metrics.RecordCacheLookup(ctx, variant, true)
			return nil, nil
		}
		c.metrics.RecordCacheLookup(ctx, variant, false)

		tmp := partialPath(dest)
		if err := produce(ctx, tmp); err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
				c.log.Warn("failed to remove partial asset", "path", tmp, "error", rmErr)
			}
			return nil, err
		}
		if err := os.Rename(tmp, dest); err != nil {
			return nil, fmt.Errorf("assetcache: publish %s: %w", dest, err)
		}
		return nil, nil
	})
	return err
}

func (c *Cache) download(ctx context.Context, ref resolver.SourceRef, dest string) error {
	start := time.Now()
	err := c.fetcher.Fetch(ctx, ref.WatchURL(), dest)
	c.metrics.RecordAcquire(ctx, "download", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrDownloadFailed, ref.ID, err)
	}
	c.log.Info("cached plain asset", "source", ref.ID, "took", time.Since(start))
	return nil
}

func (c *Cache) mix(ctx context.Context, ref resolver.SourceRef, plain, dest string) error {
	start := time.Now()
	err := c.mixer.Mix(ctx, c.BedPath(), plain, dest)
	c.metrics.RecordAcquire(ctx, "mix", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrMixFailed, ref.ID, err)
	}
	c.log.Info("cached ambience-mixed asset", "source", ref.ID, "took", time.Since(start))
	return nil
}

// partialPath keeps the .mp3 suffix so the tools writing the file still see
// an audio extension.
func partialPath(dest string) string {
	return strings.TrimSuffix(dest, ".mp3") + ".partial.mp3"
}
