package assetcache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/drizzlebot/drizzle/internal/assetcache"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/resolver"
)

// fakeFetcher writes a marker file and counts invocations.
type fakeFetcher struct {
	calls atomic.Int64
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _, dest string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("plain audio"), 0o644)
}

// fakeMixer writes a marker file and counts invocations.
type fakeMixer struct {
	calls atomic.Int64
	err   error
}

func (m *fakeMixer) Mix(_ context.Context, _, _, dest string) error {
	m.calls.Add(1)
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(dest, []byte("mixed audio"), 0o644)
}

func newTestCache(t *testing.T, bedPath string, f *fakeFetcher, m *fakeMixer) *assetcache.Cache {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := assetcache.New(t.TempDir(), bedPath, f, m, met, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var testRef = resolver.SourceRef{ID: "abcdefghijk", Origin: resolver.OriginURL}

func TestResolve_PlainCachedOnce(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	c := newTestCache(t, "", f, &fakeMixer{})

	p1, err := c.Resolve(context.Background(), testRef, false)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	p2, err := c.Resolve(context.Background(), testRef, false)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if p1 != p2 {
		t.Errorf("paths differ: %q vs %q", p1, p2)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
	if _, err := os.Stat(p1); err != nil {
		t.Errorf("cached file missing: %v", err)
	}
}

func TestResolve_ConcurrentRainCollapses(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	m := &fakeMixer{}
	c := newTestCache(t, "/srv/rain.mp3", f, m)

	const n = 8
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = c.Resolve(context.Background(), testRef, true)
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("Resolve[%d]: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("Resolve[%d] path = %q, want %q", i, paths[i], paths[0])
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
	if got := m.calls.Load(); got != 1 {
		t.Errorf("mix count = %d, want 1", got)
	}
}

func TestResolve_RainReusesPlainDownload(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	m := &fakeMixer{}
	c := newTestCache(t, "/srv/rain.mp3", f, m)
	ctx := context.Background()

	plain, err := c.Resolve(ctx, testRef, false)
	if err != nil {
		t.Fatalf("plain Resolve: %v", err)
	}
	mixed, err := c.Resolve(ctx, testRef, true)
	if err != nil {
		t.Fatalf("rain Resolve: %v", err)
	}
	if plain == mixed {
		t.Error("variants must be distinct files")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
	// The plain variant stays cached alongside the mixed one.
	if _, err := os.Stat(plain); err != nil {
		t.Errorf("plain file missing after mix: %v", err)
	}
}

func TestResolve_DownloadFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{err: errors.New("network down")}
	c := newTestCache(t, "", f, &fakeMixer{})

	_, err := c.Resolve(context.Background(), testRef, false)
	if !errors.Is(err, assetcache.ErrDownloadFailed) {
		t.Fatalf("error = %v, want ErrDownloadFailed", err)
	}

	dir := filepath.Dir(c.PlainPath(testRef.ID))
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir not empty after failure: %v", entries)
	}
}

func TestResolve_MixFailureKeepsPlain(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	m := &fakeMixer{err: errors.New("codec error")}
	c := newTestCache(t, "/srv/rain.mp3", f, m)

	_, err := c.Resolve(context.Background(), testRef, true)
	if !errors.Is(err, assetcache.ErrMixFailed) {
		t.Fatalf("error = %v, want ErrMixFailed", err)
	}
	if _, err := os.Stat(c.PlainPath(testRef.ID)); err != nil {
		t.Errorf("plain file should survive a failed mix: %v", err)
	}
	if _, err := os.Stat(c.RainPath(testRef.ID)); !os.IsNotExist(err) {
		t.Errorf("mixed file must not exist after failure, stat err = %v", err)
	}
}

func TestResolve_NoBedConfigured(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, "", &fakeFetcher{}, &fakeMixer{})

	_, err := c.Resolve(context.Background(), testRef, true)
	if !errors.Is(err, assetcache.ErrNoRainBed) {
		t.Errorf("error = %v, want ErrNoRainBed", err)
	}
}
