package acquire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDownloadsSuspended is returned by [BreakerFetcher.Fetch] while downloads
// are suspended after repeated failures.
var ErrDownloadsSuspended = errors.New("acquire: downloads suspended after repeated failures")

const (
	defaultBreakerFailures = 3
	defaultBreakerCooldown = time.Minute
)

// BreakerFetcher wraps a [Fetcher] with a circuit breaker. After consecutive
// download failures it suspends downloads for a cooldown, so a broken yt-dlp
// install or a blocked network fails queue commands fast instead of each one
// spending minutes in a doomed run. After the cooldown a single probe
// download is let through; its outcome decides whether downloads resume or
// stay suspended for another cooldown.
type BreakerFetcher struct {
	inner Fetcher

	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	failures int       // consecutive failures since the last success
	openedAt time.Time // zero while downloads are allowed
	probing  bool      // a post-cooldown probe download is in flight
}

var _ Fetcher = (*BreakerFetcher)(nil)

// BreakerOption tunes a [BreakerFetcher].
type BreakerOption func(*BreakerFetcher)

// WithBreakerLimits overrides how many consecutive failures suspend
// downloads and how long the suspension lasts before a probe is allowed.
func WithBreakerLimits(failures int, cooldown time.Duration) BreakerOption {
	return func(b *BreakerFetcher) {
		b.maxFailures = failures
		b.cooldown = cooldown
	}
}

// NewBreakerFetcher wraps inner with a download circuit breaker.
func NewBreakerFetcher(inner Fetcher, opts ...BreakerOption) *BreakerFetcher {
	b := &BreakerFetcher{
		inner:       inner,
		maxFailures: defaultBreakerFailures,
		cooldown:    defaultBreakerCooldown,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Fetch delegates to the wrapped fetcher unless downloads are suspended, in
// which case it returns [ErrDownloadsSuspended] without running yt-dlp.
func (b *BreakerFetcher) Fetch(ctx context.Context, url, dest string) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := b.inner.Fetch(ctx, url, dest)
	b.record(err)
	return err
}

// admit decides whether a download may start right now.
func (b *BreakerFetcher) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return nil
	}
	if b.probing || time.Since(b.openedAt) < b.cooldown {
		return ErrDownloadsSuspended
	}
	b.probing = true
	slog.Info("probing downloads after cooldown")
	return nil
}

// record folds one download outcome into the breaker state.
func (b *BreakerFetcher) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if !b.openedAt.IsZero() {
			slog.Info("downloads resumed")
		}
		b.failures = 0
		b.openedAt = time.Time{}
		b.probing = false
		return
	}

	// A cancelled command says nothing about yt-dlp health.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.probing = false
		return
	}

	if b.probing {
		b.probing = false
		b.openedAt = time.Now()
		slog.Warn("download probe failed, downloads stay suspended", "err", err)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures && b.openedAt.IsZero() {
		b.openedAt = time.Now()
		slog.Warn("suspending downloads after repeated failures",
			"failures", b.failures, "cooldown", b.cooldown)
	}
}
