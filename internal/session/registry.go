// Package session tracks live voice sessions per guild. A session pairs a
// guild with the voice channel the bot joined and the playback handle for
// it. Mutating operations on a session are serialised through a per-guild
// lock with a bounded wait, so a wedged playback operation cannot hang
// command handling forever.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/pkg/voice"
)

// Sentinel errors for the session lifecycle.
var (
	ErrLockTimeout       = errors.New("session: timed out waiting for session lock")
	ErrNotInSession      = errors.New("session: no active session for guild")
	ErrNotInVoiceChannel = errors.New("session: user not in a voice channel")
	ErrJoinFailed        = errors.New("session: failed to join voice channel")
)

// defaultLockWait bounds how long callers wait for a busy session.
const defaultLockWait = 5 * time.Second

type session struct {
	handle    voice.Handle
	channelID string
	sem       chan struct{}
}

// Registry owns all live sessions. Safe for concurrent use.
type Registry struct {
	platform voice.Platform
	metrics  *observe.Metrics
	log      *slog.Logger
	lockWait time.Duration

	joins singleflight.Group

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a [Registry].
type Option func(*Registry)

// WithLockWait overrides how long [Registry.WithSession] waits for a busy
// session before failing with [ErrLockTimeout].
func WithLockWait(d time.Duration) Option {
	return func(r *Registry) { r.lockWait = d }
}

// NewRegistry returns an empty [Registry] joining channels through platform.
func NewRegistry(platform voice.Platform, met *observe.Metrics, log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		platform: platform,
		metrics:  met,
		log:      log,
		lockWait: defaultLockWait,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrJoin returns the guild's live session handle, joining channelID first
// when no session exists. An empty channelID with no existing session fails
// with [ErrNotInVoiceChannel]: the caller has nowhere to play.
//
// The join itself runs without the registry lock held. Voice joins go over
// the gateway and can stall for seconds; one guild's slow join must not
// block operations on every other guild. Concurrent first-joins for the
// same guild collapse into a single platform call.
func (r *Registry) GetOrJoin(ctx context.Context, guildID, channelID string) (voice.Handle, error) {
	r.mu.Lock()
	if s, ok := r.sessions[guildID]; ok {
		r.mu.Unlock()
		return s.handle, nil
	}
	r.mu.Unlock()
	if channelID == "" {
		return nil, ErrNotInVoiceChannel
	}

	h, err, _ := r.joins.Do(guildID, func() (any, error) {
		// Re-check: a concurrent caller may have published a session
		// between the fast path above and entering the flight.
		r.mu.Lock()
		if s, ok := r.sessions[guildID]; ok {
			r.mu.Unlock()
			return s.handle, nil
		}
		r.mu.Unlock()

		h, err := r.platform.Join(ctx, guildID, channelID)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %s: %w", ErrJoinFailed, channelID, err)
		}
		s := &session{handle: h, channelID: channelID, sem: make(chan struct{}, 1)}
		r.mu.Lock()
		r.sessions[guildID] = s
		r.mu.Unlock()
		r.metrics.ActiveSessions.Add(ctx, 1)
		r.log.Info("voice session started", "guild", guildID, "channel", channelID)
		return s.handle, nil
	})
	if err != nil {
		return nil, err
	}
	return h.(voice.Handle), nil
}

// Get returns the guild's session handle and joined channel without joining.
func (r *Registry) Get(guildID string) (voice.Handle, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok {
		return nil, "", false
	}
	return s.handle, s.channelID, true
}

// WithSession runs fn with exclusive access to the guild's session handle.
// It fails with [ErrNotInSession] when the guild has no session and with
// [ErrLockTimeout] when the session stays busy past the configured wait.
func (r *Registry) WithSession(ctx context.Context, guildID string, fn func(voice.Handle) error) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok {
		return ErrNotInSession
	}

	if err := r.acquire(ctx, s); err != nil {
		return err
	}
	defer func() { <-s.sem }()
	return fn(s.handle)
}

// Leave tears down the guild's session: playback stops and the voice
// connection closes. Fails with [ErrNotInSession] when there is none.
func (r *Registry) Leave(ctx context.Context, guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok {
		return ErrNotInSession
	}

	if err := r.acquire(ctx, s); err != nil {
		return err
	}
	defer func() { <-s.sem }()
	return r.teardown(ctx, guildID, s)
}

// RemoveOnEmpty tears down the guild's session when channelID is the
// session's channel and at most `remaining` member (the bot itself) is left
// in it. Returns true when a teardown happened. Other channels' comings and
// goings are ignored.
func (r *Registry) RemoveOnEmpty(ctx context.Context, guildID, channelID string, remaining int) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok || s.channelID != channelID || remaining > 1 {
		return false, nil
	}

	if err := r.acquire(ctx, s); err != nil {
		return false, err
	}
	defer func() { <-s.sem }()

	// Re-check under the session lock: a Leave may have won the race.
	r.mu.Lock()
	current, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok || current != s {
		return false, nil
	}

	r.log.Info("voice channel vacated, leaving", "guild", guildID, "channel", channelID)
	return true, r.teardown(ctx, guildID, s)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down every live session. Used during shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	guilds := make([]string, 0, len(r.sessions))
	for g := range r.sessions {
		guilds = append(guilds, g)
	}
	r.mu.Unlock()

	var errs []error
	for _, g := range guilds {
		if err := r.Leave(ctx, g); err != nil && !errors.Is(err, ErrNotInSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) acquire(ctx context.Context, s *session) error {
	t := time.NewTimer(r.lockWait)
	defer t.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-t.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown closes the handle and drops the registry entry. Callers hold the
// session lock.
func (r *Registry) teardown(ctx context.Context, guildID string, s *session) error {
	r.mu.Lock()
	if r.sessions[guildID] == s {
		delete(r.sessions, guildID)
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	r.mu.Unlock()

	var errs []error
	if err := s.handle.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.platform.Remove(guildID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: leave guild %s: %w", guildID, err)
	}
	r.log.Info("voice session ended", "guild", guildID)
	return nil
}
