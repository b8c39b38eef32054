// Package mock provides scripted [voice.Platform] and [voice.Handle]
// implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/drizzlebot/drizzle/pkg/voice"
)

// Compile-time interface assertions.
var (
	_ voice.Platform = (*Platform)(nil)
	_ voice.Handle   = (*Handle)(nil)
)

// JoinCall records the arguments of one Platform.Join invocation.
type JoinCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a scripted [voice.Platform]. Join creates (or returns) a
// [Handle] per guild unless JoinErr is set.
type Platform struct {
	mu        sync.Mutex
	handles   map[string]*Handle
	JoinErr   error
	JoinCalls []JoinCall
}

// NewPlatform creates an empty mock platform.
func NewPlatform() *Platform {
	return &Platform{handles: make(map[string]*Handle)}
}

// Join records the call and returns the guild's handle, creating one if needed.
func (p *Platform) Join(_ context.Context, guildID, channelID string) (voice.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JoinCalls = append(p.JoinCalls, JoinCall{GuildID: guildID, ChannelID: channelID})
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	h, ok := p.handles[guildID]
	if !ok {
		h = &Handle{Channel: channelID}
		p.handles[guildID] = h
	}
	return h, nil
}

// Get returns the guild's handle, if Join created one.
func (p *Platform) Get(guildID string) (voice.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[guildID]
	if !ok {
		return nil, false
	}
	return h, true
}

// Remove closes and forgets the guild's handle.
func (p *Platform) Remove(guildID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[guildID]; ok {
		_ = h.Close()
		delete(p.handles, guildID)
	}
	return nil
}

// Handle is a scripted [voice.Handle] that keeps the queue in memory and
// never plays anything.
type Handle struct {
	mu sync.Mutex

	Channel string
	Tracks  []voice.Track
	Muted   bool
	Volume  float64
	Closed  bool

	SkipCalls int
	StopCalls int
	MuteErr   error
}

// Enqueue appends the track and returns the new queue length.
func (h *Handle) Enqueue(t voice.Track) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tracks = append(h.Tracks, t)
	return len(h.Tracks)
}

// Skip removes the queue head, mirroring playback ending early.
func (h *Handle) Skip() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.SkipCalls++
	if len(h.Tracks) > 0 {
		h.Tracks = h.Tracks[1:]
	}
}

// Stop clears the queue.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StopCalls++
	h.Tracks = nil
}

// Len returns the queue length.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Tracks)
}

// Mute records the muted state, or fails with MuteErr.
func (h *Handle) Mute(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.MuteErr != nil {
		return h.MuteErr
	}
	h.Muted = on
	return nil
}

// IsMute reports the recorded muted state.
func (h *Handle) IsMute() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Muted
}

// SetVolume records the volume.
func (h *Handle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Volume = v
}

// ChannelID returns the channel the handle was created for.
func (h *Handle) ChannelID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Channel
}

// Close marks the handle closed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = true
	return nil
}
