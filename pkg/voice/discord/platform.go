// Package discord provides a [voice.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. Queued tracks
// are decoded on demand by an ffmpeg subprocess and encoded to Opus for
// Discord's 48 kHz stereo voice transport.
//
// The platform requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Platform.Join] joins the specified voice channel and
// returns a [Handle] that owns the playback queue for that guild.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Platform = (*Platform)(nil)

// Platform implements [voice.Platform] using discordgo voice connections.
// It requires an active *discordgo.Session (owned by the bot layer).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session

	mu      sync.Mutex
	handles map[string]*Handle // guildID -> handle
}

// New creates a Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		handles: make(map[string]*Handle),
	}
}

// Join connects to the voice channel identified by channelID in the given
// guild and returns an active [voice.Handle]. If a handle already exists for
// the guild it is returned as-is regardless of channel. The supplied ctx
// governs the connection-setup phase only.
func (p *Platform) Join(_ context.Context, guildID, channelID string) (voice.Handle, error) {
	p.mu.Lock()
	if h, ok := p.handles[guildID]; ok {
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	// Join unmuted so we can send audio, deafened because we never listen.
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	h := newHandle(vc, guildID, channelID, nil, func() { p.forget(guildID) })

	p.mu.Lock()
	p.handles[guildID] = h
	p.mu.Unlock()

	return h, nil
}

// Get returns the existing handle for the guild, if any.
func (p *Platform) Get(guildID string) (voice.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[guildID]
	if !ok {
		return nil, false
	}
	return h, true
}

// Remove closes and forgets the guild's handle. Unknown guilds are a no-op.
func (p *Platform) Remove(guildID string) error {
	p.mu.Lock()
	h, ok := p.handles[guildID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return h.Close()
}

// forget drops the handle from the registry map. Called from Handle.Close so
// that a handle closed directly also disappears from lookups.
func (p *Platform) forget(guildID string) {
	p.mu.Lock()
	delete(p.handles, guildID)
	p.mu.Unlock()
}
